package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"os"
	"strings"
	"time"

	"github.com/park285/kriegspiel-server/pkg/kriegdto"
	"github.com/valyala/fasthttp"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// kscheck is a smoke client. KS_MODE=bot plays a full game against a server
// bot; KS_MODE=queue joins matchmaking and prints what arrives.
func main() {
	wsURL := getenv("KS_WS_URL", "ws://localhost:8080/ws")
	adminURL := strings.TrimRight(os.Getenv("KS_ADMIN_URL"), "/")
	mode := strings.ToLower(getenv("KS_MODE", "bot"))
	window := 30 * time.Second
	if v := os.Getenv("KS_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			window = d
		}
	}

	if adminURL != "" {
		status, body, err := fasthttp.GetTimeout(nil, adminURL+"/healthz", 5*time.Second)
		if err != nil {
			log.Printf("/healthz error: %v", err)
		} else {
			log.Printf("/healthz %d %s", status, strings.TrimSpace(string(body)))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), window)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		CompressionMode: websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		log.Fatalf("ws connect error: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	switch mode {
	case "queue":
		send(ctx, conn, kriegdto.EventJoinQueue, nil)
	default:
		send(ctx, conn, kriegdto.EventCreateBotSession, kriegdto.CreateBotSessionRequest{Difficulty: "easy", Identity: "X"})
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for {
		var env kriegdto.Envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			log.Printf("ws read ended: %v", err)
			return
		}
		fmt.Printf("<- %s %s\n", env.Event, string(env.Data))

		switch env.Event {
		case kriegdto.EventSessionOver:
			return
		case kriegdto.EventSessionCreated, kriegdto.EventMatchFound, kriegdto.EventStateUpdate:
			var holder struct {
				View *kriegdto.View `json:"state"`
			}
			if err := json.Unmarshal(env.Data, &holder); err != nil || holder.View == nil {
				continue
			}
			if pos, ok := pickMove(holder.View, rng); ok {
				row, col := pos.Row, pos.Col
				send(ctx, conn, kriegdto.EventMakeMove, kriegdto.MakeMoveRequest{Row: &row, Col: &col})
			}
		}
	}
}

// pickMove chooses a random cell the view shows as empty.
func pickMove(v *kriegdto.View, rng *rand.Rand) (kriegdto.Position, bool) {
	if !v.CanMove {
		return kriegdto.Position{}, false
	}
	var open []kriegdto.Position
	for r := range v.Board {
		for c := range v.Board[r] {
			if v.Board[r][c] == "" {
				open = append(open, kriegdto.Position{Row: r, Col: c})
			}
		}
	}
	if len(open) == 0 {
		return kriegdto.Position{}, false
	}
	return open[rng.Intn(len(open))], true
}

func send(ctx context.Context, conn *websocket.Conn, event string, data any) {
	env, err := kriegdto.NewEnvelope(event, data)
	if err != nil {
		log.Fatalf("encode %s: %v", event, err)
	}
	if err := wsjson.Write(ctx, conn, env); err != nil {
		log.Fatalf("send %s: %v", event, err)
	}
	fmt.Printf("-> %s %s\n", event, string(env.Data))
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
