package realtime

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"

	"salesboard/internal/domain"
)

// Subscribe reads board events from url until ctx is done or the server
// closes the connection. A normal close returns nil.
func Subscribe(ctx context.Context, url string, header http.Header, onEvent func(domain.BoardEvent)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return fmt.Errorf("dial board events: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var event domain.BoardEvent
		if err := conn.ReadJSON(&event); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read board event: %w", err)
		}
		onEvent(event)
	}
}
