package keys

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crypto/ed25519"

	"github.com/cloudflare/circl/sign/dilithium/mode3"

	"github.com/repomesh/core/registry"
)

// Store is a simple local-first key management surface for participants
// operating a repomesh node outside of any hosted key-management service.
//
// It is not part of the core's stable protocol surface, since the signing
// key provider is an excluded collaborator in production deployments; it
// exists so tests and small deployments have a real, filesystem-backed
// default.
//
// Features:
// - Ed25519 root/role keys, plus one optional Dilithium3 co-signature
//   keypair per participant, all as flat hex-encoded files
// - Deterministic role subkeys via DeriveRoleSeed
// - MaintainerFor turns what's on disk directly into a registry.Maintainer,
//   so a node operator never hand-assembles a manifest entry from raw key
//   material
// - No dependencies beyond the registry package it feeds and circl's
//   Dilithium3 implementation
type Store struct {
	Directory string
}

// KeyEntry describes one participant's registered keys, as discovered on
// disk.
type KeyEntry struct {
	Participant       string
	Roles             []string
	HasCoSignatureKey bool
}

func DefaultDirectory() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".repomesh", "keys"), nil
}

func OpenStore(directory string) (*Store, error) {
	if directory == "" {
		var err error
		directory, err = DefaultDirectory()
		if err != nil {
			return nil, err
		}
	}
	return &Store{Directory: directory}, nil
}

func (ks *Store) rootKeyPath(participant string) string {
	return filepath.Join(ks.Directory, participant, "root.key")
}

func (ks *Store) roleKeyPath(participant, role string) string {
	return filepath.Join(ks.Directory, participant, "roles", role+".key")
}

func (ks *Store) coSignaturePrivateKeyPath(participant string) string {
	return filepath.Join(ks.Directory, participant, "dilithium.key")
}

func (ks *Store) coSignaturePublicKeyPath(participant string) string {
	return filepath.Join(ks.Directory, participant, "dilithium.pub")
}

// CheckParticipantID validates the filesystem-safe subset of participant ids
// this store accepts. The wire form "<org>/<name>" uses '/', which the store
// maps to a nested directory instead of allowing literally.
func CheckParticipantID(id string) error {
	if id == "" {
		return errors.New("keys: participant id cannot be empty")
	}
	for _, char := range id {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' || char == '/' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in participant id", char)
	}
	return nil
}

func CheckRole(role string) error {
	if role == "" {
		return errors.New("keys: role cannot be empty")
	}
	for _, char := range role {
		if (char >= 'a' && char <= 'z') || (char >= 'A' && char <= 'Z') || (char >= '0' && char <= '9') || char == '-' || char == '_' {
			continue
		}
		return fmt.Errorf("keys: invalid character %q in role", char)
	}
	return nil
}

func ParseSeedHex(seedHex string) ([]byte, error) {
	seedHex = strings.TrimSpace(seedHex)
	seedHex = strings.TrimPrefix(seedHex, "0x")
	data, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, err
	}
	if len(data) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: expected seed length of %d bytes, got %d", ed25519.SeedSize, len(data))
	}
	return data, nil
}

// saveHexBlob writes data hex-encoded to filePath, creating parent
// directories as needed. overwrite selects O_TRUNC vs O_EXCL, the same
// choice every key file in this store makes: a fresh mint must not clobber
// an existing key by accident, but a deliberate rotation must be allowed to.
func (ks *Store) saveHexBlob(filePath string, data []byte, overwrite bool) error {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o700); err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE
	if overwrite {
		flags |= os.O_TRUNC
	} else {
		flags |= os.O_EXCL
	}
	file, err := os.OpenFile(filePath, flags, 0o600)
	if err != nil {
		return err
	}
	defer file.Close()
	if _, err := file.WriteString(hex.EncodeToString(data) + "\n"); err != nil {
		return err
	}
	return file.Close()
}

func (ks *Store) loadHexBlob(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimSpace(string(data)))
}

func (ks *Store) saveSeed(filePath string, seed []byte, overwrite bool) error {
	if len(seed) != ed25519.SeedSize {
		return fmt.Errorf("keys: expected seed length of %d bytes", ed25519.SeedSize)
	}
	return ks.saveHexBlob(filePath, seed, overwrite)
}

func (ks *Store) loadSeed(filePath string) ([]byte, error) {
	seed, err := ks.loadHexBlob(filePath)
	if err != nil {
		return nil, err
	}
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: expected seed length of %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	return seed, nil
}

// InitializeRootKey registers a participant's root Ed25519 seed and returns
// the corresponding keyId.
func (ks *Store) InitializeRootKey(participant string, seed []byte, overwrite bool) (keyID string, filePath string, err error) {
	if err := CheckParticipantID(participant); err != nil {
		return "", "", err
	}
	filePath = ks.rootKeyPath(participant)
	if err := ks.saveSeed(filePath, seed, overwrite); err != nil {
		return "", "", err
	}
	return KeyIDFromSeed(seed), filePath, nil
}

// DeriveKeyFromRole derives and registers a role subkey from a participant's
// stored root seed, returning its keyId.
func (ks *Store) DeriveKeyFromRole(participant, role string, overwrite bool) (keyID string, filePath string, err error) {
	if err := CheckParticipantID(participant); err != nil {
		return "", "", err
	}
	if err := CheckRole(role); err != nil {
		return "", "", err
	}
	rootSeed, err := ks.loadSeed(ks.rootKeyPath(participant))
	if err != nil {
		return "", "", err
	}
	roleSeed, err := DeriveRoleSeed(rootSeed, role)
	if err != nil {
		return "", "", err
	}
	filePath = ks.roleKeyPath(participant, role)
	if err := ks.saveSeed(filePath, roleSeed, overwrite); err != nil {
		return "", "", err
	}
	return KeyIDFromSeed(roleSeed), filePath, nil
}

// InitializeCoSignatureKey registers a participant's Dilithium3 co-signature
// keypair. A co-signature key is stored once per participant and shared
// across every Ed25519 role subkey that participant signs with — unlike
// DeriveKeyFromRole's per-role Ed25519 subkeys, minting a fresh post-quantum
// keypair per role buys no additional isolation here, since a co-signature
// is only ever bound to a keyId's manifest entry, never to a role name.
func (ks *Store) InitializeCoSignatureKey(participant string, pub *mode3.PublicKey, priv *mode3.PrivateKey, overwrite bool) (filePath string, err error) {
	if err := CheckParticipantID(participant); err != nil {
		return "", err
	}
	pubBytes, err := pub.MarshalBinary()
	if err != nil {
		return "", err
	}
	privBytes, err := priv.MarshalBinary()
	if err != nil {
		return "", err
	}
	if err := ks.saveHexBlob(ks.coSignaturePublicKeyPath(participant), pubBytes, overwrite); err != nil {
		return "", err
	}
	filePath = ks.coSignaturePrivateKeyPath(participant)
	if err := ks.saveHexBlob(filePath, privBytes, overwrite); err != nil {
		return "", err
	}
	return filePath, nil
}

func (ks *Store) loadCoSignaturePublicKey(participant string) (*mode3.PublicKey, error) {
	raw, err := ks.loadHexBlob(ks.coSignaturePublicKeyPath(participant))
	if err != nil {
		return nil, err
	}
	pub := new(mode3.PublicKey)
	if err := pub.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("keys: dilithium public key file is malformed: %w", err)
	}
	return pub, nil
}

// LoadCoSignaturePrivateKey loads a participant's stored Dilithium3 private
// key, for use with SignDilithium3Hash / event.SignWithCoSignature.
func (ks *Store) LoadCoSignaturePrivateKey(participant string) (*mode3.PrivateKey, error) {
	if err := CheckParticipantID(participant); err != nil {
		return nil, err
	}
	raw, err := ks.loadHexBlob(ks.coSignaturePrivateKeyPath(participant))
	if err != nil {
		return nil, err
	}
	priv := new(mode3.PrivateKey)
	if err := priv.UnmarshalBinary(raw); err != nil {
		return nil, fmt.Errorf("keys: dilithium private key file is malformed: %w", err)
	}
	return priv, nil
}

// ExportKeyID returns the keyId for a stored root or role seed without
// exposing the private material.
func (ks *Store) ExportKeyID(participant string, role string) (string, error) {
	if err := CheckParticipantID(participant); err != nil {
		return "", err
	}
	var seed []byte
	var err error
	if role == "" {
		seed, err = ks.loadSeed(ks.rootKeyPath(participant))
	} else {
		if err := CheckRole(role); err != nil {
			return "", err
		}
		seed, err = ks.loadSeed(ks.roleKeyPath(participant, role))
	}
	if err != nil {
		return "", err
	}
	return KeyIDFromSeed(seed), nil
}

// LoadSeed resolves a signer's private seed from an explicit hex seed, a key
// file path, or a (participant, role) pair stored in this Store, in that
// priority order.
func (ks *Store) LoadSeed(seedHex, participant, role, keyFile string) ([]byte, error) {
	if seedHex != "" {
		return ParseSeedHex(seedHex)
	}
	if keyFile != "" {
		return ks.loadSeed(keyFile)
	}
	if participant != "" {
		if err := CheckParticipantID(participant); err != nil {
			return nil, err
		}
		if role == "" {
			return ks.loadSeed(ks.rootKeyPath(participant))
		}
		if err := CheckRole(role); err != nil {
			return nil, err
		}
		return ks.loadSeed(ks.roleKeyPath(participant, role))
	}
	return nil, errors.New("keys: no signer provided")
}

// MaintainerFor assembles a registry.Maintainer directly from this store's
// on-disk key material, so a node operator never hand-copies key bytes into
// a manifest by hand. participant/role select the Ed25519 signing key
// exactly as LoadSeed does; if the participant has also registered a
// co-signature keypair via InitializeCoSignatureKey, its public half is
// attached to the returned Maintainer too.
func (ks *Store) MaintainerFor(participant, role, name string) (registry.Maintainer, error) {
	seed, err := ks.LoadSeed("", participant, role, "")
	if err != nil {
		return registry.Maintainer{}, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	pemStr, err := registry.EncodeEd25519PublicKeyPEM(pub)
	if err != nil {
		return registry.Maintainer{}, err
	}

	m := registry.Maintainer{Name: name, KeyID: KeyIDFromPublicKey(pub), PublicKey: pemStr}

	coPub, err := ks.loadCoSignaturePublicKey(participant)
	switch {
	case err == nil:
		encoded, encErr := registry.EncodeDilithium3PublicKey(coPub)
		if encErr != nil {
			return registry.Maintainer{}, encErr
		}
		m.DilithiumPublicKey = encoded
	case os.IsNotExist(err):
		// No co-signature key registered for this participant; Ed25519-only
		// maintainer entries are the common case.
	default:
		return registry.Maintainer{}, err
	}
	return m, nil
}

// ListKeys enumerates registered participants, their derived roles, and
// whether each has registered a Dilithium3 co-signature key.
func (ks *Store) ListKeys() ([]KeyEntry, error) {
	_, err := os.ReadDir(ks.Directory)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var participants []string
	_ = filepath.Walk(ks.Directory, func(path string, info os.FileInfo, err error) error {
		rel, _ := filepath.Rel(ks.Directory, path)
		_, rootErr := os.Stat(filepath.Join(path, "root.key"))
		if _, coErr := os.Stat(filepath.Join(path, "dilithium.pub")); err == nil && info.IsDir() && rel != "." && info.Name() != "roles" && (rootErr == nil || coErr == nil) {
			participants = append(participants, filepath.ToSlash(rel))
		}
		return err
	})
	sort.Strings(participants)

	var result []KeyEntry
	for _, participant := range participants {
		rolesDir := filepath.Join(ks.Directory, participant, "roles")
		roleEntries, rerr := os.ReadDir(rolesDir)
		var roles []string
		if rerr == nil {
			for _, roleEntry := range roleEntries {
				if roleEntry.IsDir() {
					continue
				}
				if strings.HasSuffix(roleEntry.Name(), ".key") {
					roles = append(roles, strings.TrimSuffix(roleEntry.Name(), ".key"))
				}
			}
			sort.Strings(roles)
		}
		_, coErr := os.Stat(ks.coSignaturePublicKeyPath(participant))
		result = append(result, KeyEntry{
			Participant:       participant,
			Roles:             roles,
			HasCoSignatureKey: coErr == nil,
		})
	}
	return result, nil
}
