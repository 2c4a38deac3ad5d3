package queueaccess

import (
	"fmt"

	"stagewise/internal/chain"
	"stagewise/internal/ipc"
	"stagewise/internal/storage"
)

// Session represents a task access handle and its cleanup function.
type Session struct {
	Access Access
	Remote bool
	close  func() error
}

// Close releases resources associated with the session.
func (s Session) Close() error {
	if s.close == nil {
		return nil
	}
	return s.close()
}

// OpenWithFallback tries IPC-backed access first, then falls back to direct store access.
func OpenWithFallback(
	dial func() (*ipc.Client, error),
	openStore func() (storage.Backend, chain.Definitions, error),
) (Session, error) {
	if dial != nil {
		if client, err := dial(); err == nil {
			return Session{
				Access: NewIPCAccess(client),
				Remote: true,
				close:  client.Close,
			}, nil
		}
	}

	if openStore == nil {
		return Session{}, fmt.Errorf("open task store: no store opener configured")
	}
	store, chains, err := openStore()
	if err != nil {
		return Session{}, fmt.Errorf("open task store: %w", err)
	}
	return Session{
		Access: NewStoreAccess(store, chains),
		close:  store.Close,
	}, nil
}
