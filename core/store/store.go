// Package store persists EATP trust records as JSON documents under a single
// root directory: one chain file per agent, plus shared authority and
// revocation registries. Every write is schema-validated and atomic; every
// read is schema-validated before decoding.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/eatp-dev/eatp/core/errors"
	"github.com/eatp-dev/eatp/core/fsx"
	"github.com/eatp-dev/eatp/core/schema/validate"
	trustschema "github.com/eatp-dev/eatp/core/schema/v1/trust"
	"github.com/eatp-dev/eatp/core/trust"
)

const (
	chainsDir       = "chains"
	authoritiesFile = "authorities.json"
	revocationsFile = "revocations.json"

	dirMode  = 0o750
	fileMode = 0o640
)

const (
	CodeChainNotFound  = "chain_not_found"
	CodeRecordCorrupt  = "record_corrupt"
	CodeStoreIOFailure = "store_io_failure"
)

type Store struct {
	root string
}

// Open prepares a record store rooted at the given directory, creating the
// layout on first use.
func Open(root string) (*Store, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("store root is required")
	}
	if err := os.MkdirAll(filepath.Join(root, chainsDir), dirMode); err != nil {
		return nil, ioFailure(fmt.Errorf("create store layout: %w", err))
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string {
	return s.root
}

func (s *Store) chainPath(agentID string) (string, error) {
	if !safeRecordID(agentID) {
		return "", coreerrors.Wrap(
			fmt.Errorf("agent id %q is not a valid record name", agentID),
			coreerrors.CategoryInvalidInput,
			"invalid_agent_id",
			"agent ids may use letters, digits, dot, dash, and underscore",
			false,
		)
	}
	return filepath.Join(s.root, chainsDir, agentID+".json"), nil
}

// SaveChain validates and atomically writes one agent's chain document.
func (s *Store) SaveChain(chain trustschema.TrustChain) error {
	path, err := s.chainPath(chain.AgentID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(chain, "", "  ")
	if err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	if err := validate.ValidateChain(raw); err != nil {
		return corrupt(fmt.Errorf("chain for agent %s: %w", chain.AgentID, err))
	}
	if err := fsx.WriteFileAtomic(path, raw, fileMode); err != nil {
		return ioFailure(fmt.Errorf("write chain for agent %s: %w", chain.AgentID, err))
	}
	return nil
}

// LoadChain reads one agent's chain document. A missing file reports
// CodeChainNotFound so callers can distinguish absent agents from IO faults.
func (s *Store) LoadChain(agentID string) (trustschema.TrustChain, error) {
	path, err := s.chainPath(agentID)
	if err != nil {
		return trustschema.TrustChain{}, err
	}
	raw, err := os.ReadFile(path) // #nosec G304 -- path is rooted in the store and the id component is validated
	if errors.Is(err, fs.ErrNotExist) {
		return trustschema.TrustChain{}, coreerrors.Wrap(
			fmt.Errorf("no trust chain for agent %s", agentID),
			coreerrors.CategoryInvalidInput,
			CodeChainNotFound,
			"establish the agent before operating on it",
			false,
		)
	}
	if err != nil {
		return trustschema.TrustChain{}, ioFailure(fmt.Errorf("read chain for agent %s: %w", agentID, err))
	}
	return decodeChain(agentID, raw)
}

func decodeChain(agentID string, raw []byte) (trustschema.TrustChain, error) {
	if err := validate.ValidateChain(raw); err != nil {
		return trustschema.TrustChain{}, corrupt(fmt.Errorf("chain for agent %s: %w", agentID, err))
	}
	var chain trustschema.TrustChain
	if err := json.Unmarshal(raw, &chain); err != nil {
		return trustschema.TrustChain{}, corrupt(fmt.Errorf("decode chain for agent %s: %w", agentID, err))
	}
	return chain, nil
}

// LoadChains reads every chain document, ordered by agent id.
func (s *Store) LoadChains() ([]trustschema.TrustChain, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, chainsDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, ioFailure(fmt.Errorf("list chains: %w", err))
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), ".json"))
	}
	sort.Strings(names)

	chains := make([]trustschema.TrustChain, 0, len(names))
	for _, agentID := range names {
		chain, err := s.LoadChain(agentID)
		if err != nil {
			return nil, err
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func (s *Store) SaveAuthorities(authorities []trustschema.Authority) error {
	return s.saveRegistry(authoritiesFile, authorities, validate.ValidateAuthorities)
}

func (s *Store) LoadAuthorities() ([]trustschema.Authority, error) {
	var authorities []trustschema.Authority
	if err := s.loadRegistry(authoritiesFile, &authorities, validate.ValidateAuthorities); err != nil {
		return nil, err
	}
	return authorities, nil
}

func (s *Store) SaveRevocations(markers []trustschema.RevocationMarker) error {
	return s.saveRegistry(revocationsFile, markers, validate.ValidateRevocations)
}

func (s *Store) LoadRevocations() ([]trustschema.RevocationMarker, error) {
	var markers []trustschema.RevocationMarker
	if err := s.loadRegistry(revocationsFile, &markers, validate.ValidateRevocations); err != nil {
		return nil, err
	}
	return markers, nil
}

// AppendRevocation adds a marker to the registry. Re-revoking an existing
// target is a no-op: the first marker keeps its timestamp.
func (s *Store) AppendRevocation(marker trustschema.RevocationMarker) error {
	markers, err := s.LoadRevocations()
	if err != nil {
		return err
	}
	for _, existing := range markers {
		if existing.TargetID == marker.TargetID {
			return nil
		}
	}
	return s.SaveRevocations(append(markers, marker))
}

// Snapshot loads the full record set into an immutable engine view.
func (s *Store) Snapshot() (*trust.Snapshot, error) {
	chains, err := s.LoadChains()
	if err != nil {
		return nil, err
	}
	authorities, err := s.LoadAuthorities()
	if err != nil {
		return nil, err
	}
	markers, err := s.LoadRevocations()
	if err != nil {
		return nil, err
	}
	return trust.NewSnapshot(chains, authorities, markers), nil
}

func (s *Store) saveRegistry(name string, value any, check func([]byte) error) error {
	raw, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	if string(raw) == "null" {
		raw = []byte("[]")
	}
	if err := check(raw); err != nil {
		return corrupt(fmt.Errorf("%s: %w", name, err))
	}
	if err := fsx.WriteFileAtomic(filepath.Join(s.root, name), raw, fileMode); err != nil {
		return ioFailure(fmt.Errorf("write %s: %w", name, err))
	}
	return nil
}

func (s *Store) loadRegistry(name string, out any, check func([]byte) error) error {
	raw, err := os.ReadFile(filepath.Join(s.root, name)) // #nosec G304 -- fixed file name under the store root
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioFailure(fmt.Errorf("read %s: %w", name, err))
	}
	if err := check(raw); err != nil {
		return corrupt(fmt.Errorf("%s: %w", name, err))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return corrupt(fmt.Errorf("decode %s: %w", name, err))
	}
	return nil
}

func safeRecordID(id string) bool {
	if id == "" || len(id) > 128 {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}
	return !strings.HasPrefix(id, ".")
}

func ioFailure(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryIOFailure, CodeStoreIOFailure, "check store directory permissions and disk state", true)
}

func corrupt(err error) error {
	return coreerrors.Wrap(err, coreerrors.CategoryVerification, CodeRecordCorrupt, "the record does not match its schema; restore it from a trusted copy", false)
}
