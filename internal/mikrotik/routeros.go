package mikrotik

import (
	"context"
	"fmt"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/wificontrol/wificontrol-pro/internal/domain"
)

// RouterOSDialer dials the RouterOS API (TCP 8728 by default)
type RouterOSDialer struct {
	Timeout time.Duration
}

// Dial opens and authenticates a RouterOS API session
func (d RouterOSDialer) Dial(ctx context.Context, creds domain.RouterCredentials) (Session, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := routeros.DialContext(dialCtx, creds.Address(), creds.Username, creds.Password)
	if err != nil {
		return nil, fmt.Errorf("routeros dial %s: %w", creds.Address(), err)
	}
	return &routerOSSession{client: client}, nil
}

type routerOSSession struct {
	client *routeros.Client
}

func (s *routerOSSession) Run(sentence ...string) error {
	if _, err := s.client.Run(sentence...); err != nil {
		return fmt.Errorf("routeros %s: %w", sentence[0], err)
	}
	return nil
}

func (s *routerOSSession) Close() error {
	s.client.Close()
	return nil
}
