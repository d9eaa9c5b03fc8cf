package certificate

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"sync"
	"time"

	"wipecert/internal/logging"
	"wipecert/internal/wipe"
)

// Store persists certificates in chain order. Append must fail with an error
// wrapping ErrStoreConflict when cert.PreviousHash is not the persisted tip.
type Store interface {
	Append(ctx context.Context, cert *Certificate) error
	Load(ctx context.Context) ([]*Certificate, error)
	Close() error
}

type ChainOptions struct {
	PublicURL     string
	WorkstationID string
	Organization  string
	Site          string
	Standard      string
	Logger        *logging.EnterpriseLogger
	Clock         func() time.Time

	// ReadOnly loads the chain for inspection. Links are not checked on
	// load, Verify reports them, and Append fails with ErrReadOnly.
	ReadOnly bool
}

// Chain is the append-only, hash-linked certificate log. Appends are
// serialized; readers get snapshots.
type Chain struct {
	mu     sync.RWMutex
	store  Store
	signer Signer
	opts   ChainOptions
	log    *logging.EnterpriseLogger

	certs     []*Certificate
	byHash    map[Hash]int
	byID      map[string]int
	bySession map[string]int
}

// OpenChain loads the persisted certificates. A writable chain must be
// intact: every previous hash names its predecessor. A broken chain is
// refused, never repaired; with a signer the refusal carries the position
// Verify assigns to the damage.
func OpenChain(ctx context.Context, store Store, signer Signer, opts ChainOptions) (*Chain, error) {
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Chain{
		store:     store,
		signer:    signer,
		opts:      opts,
		log:       logging.OrNop(opts.Logger),
		byHash:    make(map[Hash]int),
		byID:      make(map[string]int),
		bySession: make(map[string]int),
	}

	certs, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load chain: %w", err)
	}

	if !opts.ReadOnly {
		if err := checkLinks(certs); err != nil {
			if signer != nil {
				if res := Verify(certs, signer.Public()); !res.Valid() {
					return nil, &ChainError{Position: res.Position, Reason: string(res.Status), Err: res.Err()}
				}
			}
			return nil, err
		}
	}
	for _, cert := range certs {
		c.index(cert)
	}

	c.log.Log("INFO", "certificate chain opened", "length", len(c.certs), "tip", c.tipLocked().String(), "read_only", opts.ReadOnly)
	return c, nil
}

func checkLinks(certs []*Certificate) error {
	prev := ZeroHash
	seen := make(map[Hash]bool, len(certs))
	for i, cert := range certs {
		pos := i + 1
		if cert.PreviousHash != prev {
			return &ChainError{
				Position: pos,
				Reason:   fmt.Sprintf("previous hash %s does not match predecessor %s", cert.PreviousHash, prev),
			}
		}
		if seen[cert.PayloadHash] {
			return &ChainError{Position: pos, Reason: "duplicate payload hash " + cert.PayloadHash.String()}
		}
		seen[cert.PayloadHash] = true
		prev = cert.PayloadHash
	}
	return nil
}

// index records cert at the next position. On a read-only chain with
// duplicates the first occurrence stays addressable.
func (c *Chain) index(cert *Certificate) {
	i := len(c.certs)
	c.certs = append(c.certs, cert)
	if _, ok := c.byHash[cert.PayloadHash]; !ok {
		c.byHash[cert.PayloadHash] = i
	}
	if _, ok := c.byID[cert.ID]; !ok {
		c.byID[cert.ID] = i
	}
	if _, ok := c.bySession[cert.SessionID]; !ok {
		c.bySession[cert.SessionID] = i
	}
}

// Append certifies a terminal session and links it to the current tip.
// Nothing is appended when the store rejects the certificate.
func (c *Chain) Append(ctx context.Context, sess *wipe.Session, meta Meta) (*Certificate, error) {
	if c.opts.ReadOnly {
		return nil, ErrReadOnly
	}
	if c.signer == nil {
		return nil, ErrNoPrivateKey
	}
	if meta.WorkstationID == "" {
		meta.WorkstationID = c.opts.WorkstationID
	}
	if meta.Organization == "" {
		meta.Organization = c.opts.Organization
	}
	if meta.Site == "" {
		meta.Site = c.opts.Site
	}
	if meta.Standard == "" {
		meta.Standard = c.opts.Standard
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pos := len(c.certs) + 1
	if sess != nil {
		if _, dup := c.bySession[sess.ID]; dup {
			return nil, &ChainError{Position: pos, Reason: "session " + sess.ID + " is already certified"}
		}
	}

	prev := c.tipLocked()

	payload, err := PayloadFromSession(sess, meta, c.opts.Clock())
	if err != nil {
		return nil, err
	}
	raw, err := EncodePayload(payload)
	if err != nil {
		return nil, err
	}
	hash := HashPayload(raw)
	sig, err := c.signer.Sign(SigningDigest(raw, prev))
	if err != nil {
		return nil, fmt.Errorf("sign certificate: %w", err)
	}

	cert := &Certificate{
		ID:                 DeriveID(hash),
		PreviousHash:       prev,
		PayloadHash:        hash,
		Signature:          sig,
		SignatureAlgorithm: c.signer.Algorithm(),
		Payload:            raw,
	}
	cert.fill(payload)
	cert.VerificationReference = VerificationReference(c.opts.PublicURL, cert.ID)

	if err := c.store.Append(ctx, cert); err != nil {
		if errors.Is(err, ErrStoreConflict) {
			return nil, &ChainError{Position: pos, Reason: "store rejected append", Err: err}
		}
		return nil, fmt.Errorf("persist certificate: %w", err)
	}
	c.index(cert)
	certificatesAppended.WithLabelValues(cert.ResultStatus).Inc()

	c.log.Log("INFO", "certificate appended",
		"id", cert.ID,
		"position", pos,
		"session", cert.SessionID,
		"status", cert.ResultStatus,
		"incomplete", cert.Incomplete)
	return cert.Clone(), nil
}

// Snapshot returns copies of all certificates, genesis first.
func (c *Chain) Snapshot() []*Certificate {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Certificate, len(c.certs))
	for i, cert := range c.certs {
		out[i] = cert.Clone()
	}
	return out
}

func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.certs)
}

// Tip returns the payload hash of the last certificate, or ZeroHash.
func (c *Chain) Tip() Hash {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.tipLocked()
}

func (c *Chain) tipLocked() Hash {
	if len(c.certs) == 0 {
		return ZeroHash
	}
	return c.certs[len(c.certs)-1].PayloadHash
}

// ByID returns the certificate and its 1-based position.
func (c *Chain) ByID(id string) (*Certificate, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byID[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return c.certs[i].Clone(), i + 1, nil
}

func (c *Chain) ByPayloadHash(h Hash) (*Certificate, int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byHash[h]
	if !ok {
		return nil, 0, fmt.Errorf("%w: payload hash %s", ErrNotFound, h)
	}
	return c.certs[i].Clone(), i + 1, nil
}

// PublicKey returns the key new certificates are verified against, nil for
// a read-only chain.
func (c *Chain) PublicKey() crypto.PublicKey {
	if c.signer == nil {
		return nil
	}
	return c.signer.Public()
}

// Close closes the underlying store.
func (c *Chain) Close() error {
	return c.store.Close()
}
