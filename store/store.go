// Package store keeps trust anchors and intermediate certificates in a
// bbolt database so they can be reused across validations.
package store

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/georgepadayatti/x509path/certvalidator"
)

// Kind selects the bucket a certificate is stored in.
type Kind string

const (
	KindAnchor       Kind = "anchors"
	KindIntermediate Kind = "intermediates"
)

var (
	ErrClosed      = errors.New("store is closed")
	ErrUnknownKind = errors.New("unknown certificate kind")
)

// ParseKind parses "anchor(s)" or "intermediate(s)".
func ParseKind(s string) (Kind, error) {
	switch s {
	case "anchor", "anchors", "trust-anchor":
		return KindAnchor, nil
	case "intermediate", "intermediates":
		return KindIntermediate, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Store is a certificate store backed by a bbolt file. Keys are SHA-256
// fingerprints and values are DER encodings.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening certificate store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, k := range []Kind{KindAnchor, KindIntermediate} {
			if _, err := tx.CreateBucketIfNotExists([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing certificate store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Put stores certs under kind and returns how many were new.
func (s *Store) Put(kind Kind, certs ...*certvalidator.Certificate) (int, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	added := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		for _, cert := range certs {
			fp := cert.Fingerprint()
			if b.Get(fp[:]) != nil {
				continue
			}
			if err := b.Put(fp[:], cert.Raw()); err != nil {
				return err
			}
			added++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}

// Delete removes the certificate with the given hex fingerprint.
func (s *Store) Delete(kind Kind, fingerprint string) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}
	key, err := hex.DecodeString(fingerprint)
	if err != nil {
		return false, fmt.Errorf("invalid fingerprint %q: %w", fingerprint, err)
	}
	found := false
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		if b.Get(key) == nil {
			return nil
		}
		found = true
		return b.Delete(key)
	})
	return found, err
}

// List returns the certificates stored under kind in fingerprint order.
func (s *Store) List(kind Kind) ([]*certvalidator.Certificate, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var certs []*certvalidator.Certificate
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(kind))
		if b == nil {
			return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
		}
		return b.ForEach(func(k, v []byte) error {
			// v is only valid inside the transaction.
			cert, err := certvalidator.ParseCertificate(append([]byte(nil), v...))
			if err != nil {
				return fmt.Errorf("entry %x: %w", k, err)
			}
			certs = append(certs, cert)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return certs, nil
}

// Bundle loads every certificate stored under kind into a new bundle.
func (s *Store) Bundle(kind Kind) (*certvalidator.CertificateBundle, error) {
	certs, err := s.List(kind)
	if err != nil {
		return nil, err
	}
	return certvalidator.NewCertificateBundle(certs...), nil
}

// LoadInto registers the stored anchors and intermediates into the given bundles.
func (s *Store) LoadInto(anchors, intermediates *certvalidator.CertificateBundle) error {
	a, err := s.List(KindAnchor)
	if err != nil {
		return err
	}
	i, err := s.List(KindIntermediate)
	if err != nil {
		return err
	}
	anchors.RegisterMultiple(a)
	intermediates.RegisterMultiple(i)
	return nil
}
