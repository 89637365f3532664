package fakeclientrepo

import (
	"errors"
	"sort"
	"sync"

	"github.com/jrsteele09/go-session-guard/clients"
	interr "github.com/jrsteele09/go-session-guard/internal/errors"
)

var _ clients.Repo = (*FakeClientRepo)(nil)

type FakeClientRepo struct {
	clients map[string]*clients.Client
	lock    sync.RWMutex
}

func NewFakeClientRepo() *FakeClientRepo {
	return &FakeClientRepo{
		clients: make(map[string]*clients.Client),
	}
}

func (r *FakeClientRepo) Upsert(client *clients.Client) error {
	if client == nil || client.ID == "" {
		return errors.New("client id cannot be empty")
	}
	r.lock.Lock()
	defer r.lock.Unlock()
	c := *client
	c.RedirectURIs = append([]string(nil), client.RedirectURIs...)
	c.Scopes = append([]string(nil), client.Scopes...)
	r.clients[client.ID] = &c
	return nil
}

func (r *FakeClientRepo) Delete(clientID string) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	delete(r.clients, clientID)
	return nil
}

func (r *FakeClientRepo) Get(clientID string) (*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	client, ok := r.clients[clientID]
	if !ok {
		return nil, interr.ErrInvalidClient
	}
	return client, nil
}

func (r *FakeClientRepo) List() ([]*clients.Client, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	out := make([]*clients.Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
