package remote

import (
	"bytes"
	"net"
	"testing"
	"time"

	"snapvault/internal/segment"
)

type fakeBackend struct {
	objects map[segment.ObjectID][]byte
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{objects: make(map[segment.ObjectID][]byte)}
}

func (b *fakeBackend) Get(id segment.ObjectID) ([]byte, error) {
	data, ok := b.objects[id]
	if !ok {
		return nil, errNotFound
	}
	return data, nil
}

func (b *fakeBackend) Put(id segment.ObjectID, plaintext []byte) error {
	b.objects[id] = append([]byte(nil), plaintext...)
	return nil
}

func (b *fakeBackend) Delete(id segment.ObjectID) error {
	delete(b.objects, id)
	return nil
}

func (b *fakeBackend) Commit(compact bool, threshold float64) error { return nil }

func (b *fakeBackend) Scan(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	return b.List(marker, limit)
}

func (b *fakeBackend) List(marker segment.ObjectID, limit int) ([]segment.ObjectID, error) {
	var ids []segment.ObjectID
	for id := range b.objects {
		ids = append(ids, id)
	}
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type testError string

func (e testError) Error() string { return string(e) }

const errNotFound = testError("not found")

func newConnectedPair(t *testing.T, restr Restrictions) (*Client, *fakeBackend) {
	t.Helper()
	clientConn, serverConn := net.Pipe()

	backend := newFakeBackend()
	srv := NewServer(backend, restr, nil)
	go srv.Serve(serverConn, serverConn)

	client := NewClientOverStream(clientConn, clientConn, nil)
	t.Cleanup(func() {
		client.Close()
		clientConn.Close()
		serverConn.Close()
	})
	return client, backend
}

func TestClientPutGetRoundTrip(t *testing.T) {
	client, _ := newConnectedPair(t, Restrictions{})
	var id segment.ObjectID
	id[0] = 0x01

	if err := client.Put(id, []byte("hello remote")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := client.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !bytes.Equal(got, []byte("hello remote")) {
		t.Fatalf("got %q, want %q", got, "hello remote")
	}
}

func TestClientDeleteForbiddenUnderAppendOnly(t *testing.T) {
	client, _ := newConnectedPair(t, Restrictions{AppendOnly: true})
	var id segment.ObjectID
	id[0] = 0x02

	if err := client.Put(id, []byte("x")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	err := client.Delete(id)
	if err == nil {
		t.Fatal("expected delete to be forbidden under append-only restrictions")
	}
}

func TestClientPipelinesConcurrentCalls(t *testing.T) {
	client, _ := newConnectedPair(t, Restrictions{})

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func(i int) {
			var id segment.ObjectID
			id[0] = byte(i)
			done <- client.Put(id, []byte{byte(i)})
		}(i)
	}
	for i := 0; i < 8; i++ {
		if err := <-done; err != nil {
			t.Fatalf("concurrent Put failed: %v", err)
		}
	}

	for i := 0; i < 8; i++ {
		var id segment.ObjectID
		id[0] = byte(i)
		got, err := client.Get(id)
		if err != nil {
			t.Fatalf("Get(%d): %v", i, err)
		}
		if len(got) != 1 || got[0] != byte(i) {
			t.Fatalf("Get(%d) = %v, want [%d]", i, got, i)
		}
	}
}

func TestClientCloseUnblocksPending(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	client := NewClientOverStream(clientConn, clientConn, nil)
	serverConn.Close()

	done := make(chan error, 1)
	go func() {
		var id segment.ObjectID
		_, err := client.Get(id)
		done <- err
	}()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error once the connection is closed")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Call did not unblock after connection closed")
	}
	client.Close()
	clientConn.Close()
}
