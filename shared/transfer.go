package shared

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"

	"github.com/Clouded-Sabre/Pseudo-RDT/lib"
)

// Serve answers file-transfer sessions until ctx ends or the transport shuts down.
// Sessions run one after another; object ids restart once a client says ok.
func Serve(ctx context.Context, srv *lib.RDTPlus, objects []FileObject) error {
	for {
		obj, addr, err := srv.Recv(ctx)
		if err != nil {
			if errors.Is(err, lib.ErrClosed) {
				return nil
			}
			return err
		}

		var ctl Control
		if err := lib.UnmarshalValue(obj, &ctl); err != nil {
			log.Printf("Ignoring undecodable object from %s: %v", addr, err)
			continue
		}

		switch ctl.Token {
		case TokenSend:
			err = srv.SendValues([]any{Control{Token: TokenNum, Num: len(objects)}}, addr)
		case TokenGet:
			values := make([]any, len(objects))
			for i := range objects {
				values[i] = &objects[i]
			}
			err = srv.SendValues(values, addr)
			log.Printf("Sending %d files to %s", len(objects), addr)
		case TokenOK:
			err = srv.SendValues([]any{Control{Token: TokenClose}}, addr)
			srv.ResetServerState()
			log.Printf("Session with %s finished", addr)
		default:
			log.Printf("Unknown token %q from %s", ctl.Token, addr)
		}
		if err != nil {
			log.Printf("Error answering %s: %v", addr, err)
		}
	}
}

// Fetch runs the client side of a session and returns the verified files in the
// order they completed. The caller closes the transport afterwards.
func Fetch(ctx context.Context, c *lib.RDTPlus, serverAddr net.Addr) ([]FileObject, error) {
	if err := c.SendValues([]any{Control{Token: TokenSend}}, serverAddr); err != nil {
		return nil, err
	}
	ctl, err := recvControl(ctx, c, TokenNum)
	if err != nil {
		return nil, err
	}

	if err := c.SendValues([]any{Control{Token: TokenGet}}, serverAddr); err != nil {
		return nil, err
	}
	files := make([]FileObject, 0, ctl.Num)
	for i := 0; i < ctl.Num; i++ {
		obj, _, err := c.Recv(ctx)
		if err != nil {
			return nil, fmt.Errorf("receiving file %d of %d: %w", i+1, ctl.Num, err)
		}
		var f FileObject
		if err := lib.UnmarshalValue(obj, &f); err != nil {
			return nil, fmt.Errorf("receiving file %d of %d: %w", i+1, ctl.Num, err)
		}
		if err := f.Verify(); err != nil {
			return nil, err
		}
		log.Printf("File %s with size %d is received", f.Name, f.Size)
		files = append(files, f)
	}

	if err := c.SendValues([]any{Control{Token: TokenOK}}, serverAddr); err != nil {
		return nil, err
	}
	if _, err := recvControl(ctx, c, TokenClose); err != nil {
		return nil, err
	}
	return files, nil
}

func recvControl(ctx context.Context, c *lib.RDTPlus, want string) (Control, error) {
	var ctl Control
	obj, _, err := c.Recv(ctx)
	if err != nil {
		return ctl, fmt.Errorf("waiting for %q: %w", want, err)
	}
	if err := lib.UnmarshalValue(obj, &ctl); err != nil {
		return ctl, fmt.Errorf("waiting for %q: %w", want, err)
	}
	if ctl.Token != want {
		return ctl, fmt.Errorf("expected %q, got %q", want, ctl.Token)
	}
	return ctl, nil
}
