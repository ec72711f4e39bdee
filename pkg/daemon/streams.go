package daemon

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/Pcarioca/Raspberry-Control/pkg/events"
	"github.com/Pcarioca/Raspberry-Control/pkg/telemetry"
)

// wsSampleInterval is used by /ws/orientation when the daemon-wide sampler
// is off.
const wsSampleInterval = 200 * time.Millisecond

// sseKeepalive is how often an idle /events stream gets a comment line.
var sseKeepalive = 15 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the daemon is meant for a trusted LAN
	},
}

// streamEvents forwards every hub event as server-sent events until the
// client disconnects. Headers go out immediately so idle streams connect.
func streamEvents(c *gin.Context) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	logrus.WithField("subscribers", sseHub.Subscribers()).Debug("events client connected")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	keepalive := time.NewTicker(sseKeepalive)
	defer keepalive.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-keepalive.C:
			_, err := io.WriteString(w, ": keepalive\n\n")
			return err == nil
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(ev.Name, string(ev.Data))
			return true
		}
	})
}

// streamOrientation pushes orientation points to a websocket client. It
// relays the daemon-wide sampler when one is running and samples on its own
// otherwise.
func streamOrientation(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logrus.WithError(err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reads only to notice the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.WithError(err).Debug("websocket closed")
				}
				return
			}
		}
	}()

	if conf.TelemetryInterval() > 0 {
		relayOrientation(ctx, conn)
		return
	}

	sampler := telemetry.NewSampler(sensor, wsSampleInterval, telemetry.SinkFunc(func(p telemetry.Point) error {
		if err := conn.WriteJSON(p); err != nil {
			cancel()
			return err
		}
		return nil
	}))
	sampler.Run(ctx)
}

func relayOrientation(ctx context.Context, conn *websocket.Conn) {
	ch := sseHub.Subscribe()
	defer sseHub.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Name != events.IMUOrientation {
				continue
			}
			p, err := events.DecodeAs[events.IMUOrientationEvent](ev)
			if err != nil {
				logrus.WithError(err).Warn("bad orientation event")
				continue
			}
			if err := conn.WriteJSON(telemetry.Point(p)); err != nil {
				logrus.WithError(err).Debug("websocket write failed")
				return
			}
		}
	}
}
