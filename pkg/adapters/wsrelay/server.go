package wsrelay

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sagemathinc/patchflow/internal/logging"
	"github.com/sagemathinc/patchflow/pkg/adapters"
	"github.com/sagemathinc/patchflow/pkg/patch"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Handler bridges one websocket connection per request to store and
// pres: it answers loadInitial requests, forwards append/presence
// frames into store/pres, and relays every subsequent store append and
// presence publish back down the socket. This is the server half of
// the Client/PatchStore/Presence trio in wsrelay.go, kept in the same package
// since both sides share the frame wire format.
func Handler(store adapters.PatchStore, pres adapters.PresenceAdapter, log logging.Logger) http.HandlerFunc {
	if log == nil {
		log = logging.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("wsrelay: upgrade failed", logging.Err(err))
			return
		}
		serveConn(r.Context(), conn, store, pres, log)
	}
}

func serveConn(ctx context.Context, conn *websocket.Conn, store adapters.PatchStore, pres adapters.PresenceAdapter, log logging.Logger) {
	defer conn.Close()

	var writeMu sync.Mutex
	write := func(f frame) error {
		data, err := json.Marshal(f)
		if err != nil {
			return err
		}
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteMessage(websocket.TextMessage, data)
	}

	unsubPatch := store.Subscribe(func(env patch.Envelope) {
		_ = write(frame{Kind: frameAppend, Patch: &env})
	})
	defer unsubPatch()

	unsubPres := pres.Subscribe(func(state interface{}) {
		raw, err := json.Marshal(state)
		if err != nil {
			log.Warn("wsrelay: marshal outbound presence", logging.Err(err))
			return
		}
		_ = write(frame{Kind: framePresence, Presence: raw})
	})
	defer unsubPres()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn("wsrelay: dropping malformed inbound frame", logging.Err(err))
			continue
		}
		switch f.Kind {
		case frameAppend:
			if f.Patch == nil {
				continue
			}
			if err := store.Append(ctx, *f.Patch); err != nil {
				log.Warn("wsrelay: append failed", logging.Err(err))
			}
		case frameLoadInitial:
			result, err := store.LoadInitial(ctx, f.Since)
			if err != nil {
				log.Warn("wsrelay: loadInitial failed", logging.Err(err))
				continue
			}
			_ = write(frame{Kind: frameLoadResult, ReqID: f.ReqID, Patches: result.Patches, HasMore: result.HasMore})
		case framePresence:
			var state interface{}
			if err := json.Unmarshal(f.Presence, &state); err != nil {
				log.Warn("wsrelay: dropping malformed inbound presence", logging.Err(err))
				continue
			}
			if err := pres.Publish(ctx, state); err != nil {
				log.Warn("wsrelay: presence publish failed", logging.Err(err))
			}
		}
	}
}
