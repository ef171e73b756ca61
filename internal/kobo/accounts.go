package kobo

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pelletier/go-toml/v2"

	"infoportal/internal/errs"
)

// Account is one Kobo server credential entry from the accounts file.
type Account struct {
	Name  string `toml:"name"`
	URL   string `toml:"url"`
	Token string `toml:"token"`
}

type accountsFile struct {
	Account []Account `toml:"account"`
}

// Registry resolves account names to ready clients. Clients are constructed
// lazily and reused; the registry is safe for concurrent use.
type Registry struct {
	mu           sync.Mutex
	accounts     map[string]Account
	clients      map[string]*Client
	fetchTimeout time.Duration
}

func NewRegistry(accounts []Account, fetchTimeout time.Duration) (*Registry, error) {
	byName := make(map[string]Account, len(accounts))
	for _, account := range accounts {
		if account.Name == "" || account.URL == "" {
			return nil, fmt.Errorf("kobo account needs name and url, got %+v", account)
		}
		if _, dup := byName[account.Name]; dup {
			return nil, fmt.Errorf("duplicate kobo account %q", account.Name)
		}
		byName[account.Name] = account
	}

	return &Registry{
		accounts:     byName,
		clients:      make(map[string]*Client, len(byName)),
		fetchTimeout: fetchTimeout,
	}, nil
}

// LoadRegistry reads the TOML accounts file. A missing file yields an empty
// registry: forms simply cannot be remote-bound until accounts exist.
func LoadRegistry(path string, fetchTimeout time.Duration) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(nil, fetchTimeout)
		}
		return nil, errs.Wrapf(err, "read kobo accounts file %s", path)
	}

	var file accountsFile
	if err := toml.Unmarshal(raw, &file); err != nil {
		return nil, errs.Wrapf(err, "parse kobo accounts file %s", path)
	}
	return NewRegistry(file.Account, fetchTimeout)
}

func (r *Registry) ClientFor(account string) (*Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if client, ok := r.clients[account]; ok {
		return client, nil
	}

	info, ok := r.accounts[account]
	if !ok {
		return nil, fmt.Errorf("unknown kobo account %q", account)
	}

	client := NewClient(info.URL, info.Token, r.fetchTimeout)
	r.clients[account] = client
	return client, nil
}
