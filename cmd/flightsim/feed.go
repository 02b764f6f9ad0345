package main

import (
	"context"
	"net/http"
	"time"

	kitlog "github.com/go-kit/kit/log"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/ChristopherRabotin/flightsim/history"
	"github.com/ChristopherRabotin/flightsim/orrery"
)

const writeWait = 5 * time.Second

// frame is one message of the trajectory feed. A reset frame carries every
// published sample of a new generation, the others only the new samples.
type frame struct {
	Serial uint64  `json:"serial"`
	Reset  bool    `json:"reset"`
	Tracks []track `json:"tracks"`
}

type track struct {
	ID      int          `json:"id"`
	Name    string       `json:"name"`
	Samples [][4]float64 `json:"samples"` // t, x, y, z
}

// feed streams the trajectories of the running simulation over websockets,
// at most limit frames per second per client.
type feed struct {
	hist     *history.History
	limit    rate.Limit
	logger   kitlog.Logger
	upgrader websocket.Upgrader
}

func newFeed(hist *history.History, fps float64, logger kitlog.Logger) *feed {
	return &feed{
		hist:   hist,
		limit:  rate.Limit(fps),
		logger: kitlog.With(logger, "subsys", "feed"),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Log("level", "warning", "client", r.RemoteAddr, "err", err)
		return
	}
	defer conn.Close()
	f.logger.Log("level", "info", "client", r.RemoteAddr, "status", "connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Clients never send anything; reading only detects the close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	limiter := rate.NewLimiter(f.limit, 1)
	var c cursor
	for {
		if err := limiter.Wait(ctx); err != nil {
			break
		}
		fr, ok := c.next(f.hist)
		if !ok {
			continue
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(fr); err != nil {
			f.logger.Log("level", "info", "client", r.RemoteAddr, "err", err)
			break
		}
	}
	f.logger.Log("level", "info", "client", r.RemoteAddr, "status", "disconnected")
}

// cursor tracks what a client was sent.
type cursor struct {
	serial uint64
	sent   []int
	primed bool
}

// next returns the frame bringing the client up to date, if any.
func (c *cursor) next(hist *history.History) (frame, bool) {
	serial := hist.Serial()
	ids := hist.IDs()
	fr := frame{Serial: serial}
	if !c.primed || serial != c.serial || len(ids) != len(c.sent) {
		c.serial, c.sent, c.primed = serial, make([]int, len(ids)), true
		fr.Reset = true
	}
	for idx, id := range ids {
		tr, got, err := hist.Trajectory(idx)
		if err != nil || got != serial {
			// Reset between IDs and Trajectory, catch up on the next frame.
			c.primed = false
			return frame{}, false
		}
		n := tr.Count()
		if n == c.sent[idx] && !fr.Reset {
			continue
		}
		t := track{ID: id, Name: orrery.BodyID(id).String()}
		for k := c.sent[idx]; k < n; k++ {
			s := tr.At(k)
			t.Samples = append(t.Samples, [4]float64{s.T, s.Pos[0], s.Pos[1], s.Pos[2]})
		}
		c.sent[idx] = n
		fr.Tracks = append(fr.Tracks, t)
	}
	return fr, fr.Reset || len(fr.Tracks) > 0
}
