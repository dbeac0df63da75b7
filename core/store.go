package core

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/sirupsen/logrus"
	sqlite "modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"
)

// Config carries the store construction parameters. Open replaces a zero
// TrustMapDepth or MinMessageInterval with the DefaultConfig value; the
// other fields are used as given, and an empty DataDir is an error.
type Config struct {
	// DataDir is the storage root; the database file and the peer blob
	// live under it.
	DataDir string

	// DBMaxSize bounds the on-disk database size. Zero means unbounded.
	DBMaxSize datasize.ByteSize

	// TrustMapDepth is the closure depth used by the background worker.
	TrustMapDepth int

	// MinMessageInterval is the replacement window: a latest message
	// superseded within the window is dropped instead of kept as history.
	MinMessageInterval time.Duration

	// SaveUntrusted controls whether priority-0 messages are accepted.
	SaveUntrusted bool

	// BootstrapTrustedKeyID, when set, seeds a fresh store with a positive
	// rating from the default key to this key identifier so that new nodes
	// join the web of trust with a known anchor.
	BootstrapTrustedKeyID string
}

// DefaultConfig returns the stock configuration rooted at dataDir.
func DefaultConfig(dataDir string) Config {
	return Config{
		DataDir:            dataDir,
		DBMaxSize:          100 * datasize.MB,
		TrustMapDepth:      4,
		MinMessageInterval: 30 * 24 * time.Hour,
		SaveUntrusted:      true,
	}
}

// Relay publishes messages to the peer network. The store only flips the
// published flag; delivery is the collaborator's concern.
type Relay interface {
	RelayMessage(m *Message) error
}

const dbFileName = "trustmesh.db"

// Store is the message/identity store and trust-graph engine. All exported
// methods present as atomic: a single mutex serializes access to the
// underlying database, so callers may use the store from multiple
// goroutines.
type Store struct {
	mu  sync.Mutex
	db  *sql.DB
	log *logrus.Logger
	cfg Config

	pageSize     int64
	maxPageCount int64

	defaultKey *Key
	myKeyIDs   []string
	pathable   map[string]bool

	relay Relay

	queueMu  sync.Mutex
	queue    []trustMapItem
	queueSet map[Identifier]struct{}

	quit   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// Open opens or creates the store under cfg.DataDir, seeds the default
// trust-pathable predicates and a default key, and starts the background
// trust-map worker.
func Open(cfg Config, log *logrus.Logger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if cfg.DataDir == "" {
		return nil, errors.New("store: data dir not set")
	}
	if cfg.TrustMapDepth <= 0 {
		cfg.TrustMapDepth = 4
	}
	if cfg.MinMessageInterval <= 0 {
		cfg.MinMessageInterval = 30 * 24 * time.Hour
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	db, err := sql.Open("sqlite", filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	// sqlite serializes writers anyway; a single connection keeps the
	// pragma state coherent.
	db.SetMaxOpenConns(1)

	s := &Store{
		db:       db,
		log:      log,
		cfg:      cfg,
		queueSet: make(map[Identifier]struct{}),
		quit:     make(chan struct{}),
	}
	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	s.mu.Lock()
	err = s.loadDefaultKeyLocked()
	if err == nil {
		s.reloadMyKeyIDsLocked()
		if cfg.BootstrapTrustedKeyID != "" {
			err = s.bootstrapTrustListLocked(cfg.BootstrapTrustedKeyID)
		}
		s.enqueueMyTrustMapsLocked()
	}
	s.mu.Unlock()
	if err != nil {
		db.Close()
		return nil, err
	}

	s.wg.Add(1)
	go s.dbWorker()

	log.Infof("store: open %s budget %s depth %d", cfg.DataDir, cfg.DBMaxSize.HR(), cfg.TrustMapDepth)
	return s, nil
}

// SetRelay installs the network relay used by Publish.
func (s *Store) SetRelay(r Relay) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.relay = r
}

// Close stops the worker and closes the database. Operations after Close
// return ErrShutdown.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.quit)
	s.wg.Wait()
	return s.db.Close()
}

func (s *Store) applyPragmas() error {
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&s.pageSize); err != nil {
		return fmt.Errorf("store: page size: %w", err)
	}
	if s.cfg.DBMaxSize > 0 {
		pages := int64(s.cfg.DBMaxSize.Bytes()) / s.pageSize
		if pages < 1 {
			pages = 1
		}
		if _, err := s.db.Exec(fmt.Sprintf("PRAGMA max_page_count = %d", pages)); err != nil {
			return fmt.Errorf("store: page budget: %w", err)
		}
	}
	if err := s.db.QueryRow("PRAGMA max_page_count").Scan(&s.maxPageCount); err != nil {
		return fmt.Errorf("store: page budget: %w", err)
	}
	return nil
}

func (s *Store) initialize() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("store: version: %w", err)
	}
	switch version {
	case 0:
		if _, err := s.db.Exec("PRAGMA user_version = 1"); err != nil {
			return fmt.Errorf("store: version: %w", err)
		}
	case 1:
	default:
		return fmt.Errorf("store: unsupported database version %d", version)
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS TrustPathablePredicates (
			Value TEXT PRIMARY KEY
		)`,
		`CREATE TABLE IF NOT EXISTS Messages (
			Hash         TEXT PRIMARY KEY,
			SignedData   TEXT NOT NULL,
			Created      INTEGER NOT NULL,
			Type         TEXT NOT NULL,
			Rating       INTEGER NOT NULL DEFAULT 0,
			MinRating    INTEGER NOT NULL DEFAULT 0,
			MaxRating    INTEGER NOT NULL DEFAULT 0,
			HasRating    INTEGER NOT NULL DEFAULT 0,
			Published    INTEGER NOT NULL DEFAULT 0,
			Priority     INTEGER NOT NULL DEFAULT 0,
			SignerPubKey TEXT NOT NULL,
			Signature    TEXT NOT NULL,
			IsLatest     INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS MessageIdentifiers (
			MessageHash TEXT NOT NULL,
			Predicate   TEXT NOT NULL,
			Identifier  TEXT NOT NULL,
			IsRecipient INTEGER NOT NULL,
			PRIMARY KEY (MessageHash, Predicate, Identifier, IsRecipient),
			FOREIGN KEY (MessageHash) REFERENCES Messages(Hash)
		)`,
		`CREATE INDEX IF NOT EXISTS MIIndex ON MessageIdentifiers(MessageHash, IsRecipient)`,
		`CREATE INDEX IF NOT EXISTS MIIndex_pred ON MessageIdentifiers(Predicate, Identifier)`,
		`CREATE TABLE IF NOT EXISTS TrustPaths (
			StartPredicate TEXT NOT NULL,
			StartID        TEXT NOT NULL,
			EndPredicate   TEXT NOT NULL,
			EndID          TEXT NOT NULL,
			Distance       INTEGER NOT NULL,
			PRIMARY KEY (StartPredicate, StartID, EndPredicate, EndID)
		)`,
		`CREATE TABLE IF NOT EXISTS Identities (
			IdentityID         INTEGER NOT NULL,
			StartPredicate     TEXT NOT NULL,
			StartID            TEXT NOT NULL,
			Predicate          TEXT NOT NULL,
			Identifier         TEXT NOT NULL,
			ViewpointPredicate TEXT NOT NULL,
			ViewpointID        TEXT NOT NULL,
			Confirmations      INTEGER NOT NULL,
			Refutations        INTEGER NOT NULL,
			PRIMARY KEY (StartPredicate, StartID, Predicate, Identifier, ViewpointPredicate, ViewpointID)
		)`,
		`CREATE INDEX IF NOT EXISTS IdentitiesIndex_viewpoint ON Identities(ViewpointPredicate, ViewpointID, IdentityID)`,
		`CREATE TABLE IF NOT EXISTS Keys (
			PubKey TEXT PRIMARY KEY,
			KeyID  TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS PrivateKeys (
			PubKey     TEXT PRIMARY KEY,
			PrivateKey TEXT NOT NULL,
			IsDefault  INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (PubKey) REFERENCES Keys(PubKey)
		)`,
		`CREATE TABLE IF NOT EXISTS CachedNames (
			Predicate  TEXT NOT NULL,
			Identifier TEXT NOT NULL,
			CachedName TEXT NOT NULL,
			PRIMARY KEY (Predicate, Identifier)
		)`,
		`CREATE TABLE IF NOT EXISTS CachedEmails (
			Predicate   TEXT NOT NULL,
			Identifier  TEXT NOT NULL,
			CachedEmail TEXT NOT NULL,
			PRIMARY KEY (Predicate, Identifier)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("store: schema: %w", err)
		}
	}
	for _, pred := range defaultTrustPathablePredicates {
		if _, err := s.db.Exec(
			"INSERT OR IGNORE INTO TrustPathablePredicates (Value) VALUES (?)", pred); err != nil {
			return fmt.Errorf("store: seed predicates: %w", err)
		}
	}
	return nil
}

// bootstrapTrustListLocked seeds a fresh store with a positive rating from
// the default key to the configured anchor key. Idempotent across reopens.
func (s *Store) bootstrapTrustListLocked(anchorKeyID string) error {
	if s.defaultKey == nil || anchorKeyID == s.defaultKey.KeyID {
		return nil
	}
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM Messages AS m
		 INNER JOIN MessageIdentifiers AS a ON a.MessageHash = m.Hash
		   AND a.IsRecipient = 0 AND a.Predicate = 'keyID' AND a.Identifier = ?
		 INNER JOIN MessageIdentifiers AS r ON r.MessageHash = m.Hash
		   AND r.IsRecipient = 1 AND r.Predicate = 'keyID' AND r.Identifier = ?
		 WHERE m.Type = 'rating'`,
		s.defaultKey.KeyID, anchorKeyID).Scan(&n)
	if err != nil {
		return fmt.Errorf("store: bootstrap lookup: %w", err)
	}
	if n > 0 {
		return nil
	}
	author := []Identifier{{Predicate: "keyID", Value: s.defaultKey.KeyID}}
	recipient := []Identifier{{Predicate: "keyID", Value: anchorKeyID}}
	msg := NewRating(time.Now().Unix(), author, recipient, 10, "")
	if err := msg.Sign(s.defaultKey); err != nil {
		return err
	}
	_, err = s.saveMessageLocked(msg)
	return err
}

// MessageCount returns the number of stored messages.
func (s *Store) MessageCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrShutdown
	}
	var n int
	if err := s.db.QueryRow("SELECT COUNT(1) FROM Messages").Scan(&n); err != nil {
		return 0, fmt.Errorf("message count: %w", err)
	}
	return n, nil
}

// IdentifierCount returns the number of distinct identifiers referenced by
// stored messages.
func (s *Store) IdentifierCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrShutdown
	}
	var n int
	err := s.db.QueryRow(
		"SELECT COUNT(1) FROM (SELECT DISTINCT Predicate, Identifier FROM MessageIdentifiers)").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("identifier count: %w", err)
	}
	return n, nil
}

// GetMessageByHash returns the stored message, or ErrNotFound.
func (s *Store) GetMessageByHash(hash string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrShutdown
	}
	return s.messageByHashLocked(hash)
}

func (s *Store) messageByHashLocked(hash string) (*Message, error) {
	row := s.db.QueryRow(
		"SELECT SignedData, Published, Priority, SignerPubKey, Signature, IsLatest "+
			"FROM Messages WHERE Hash = ?", hash)
	return scanMessage(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var signedData, signerPubKey, signature string
	var published, priority, isLatest int
	err := row.Scan(&signedData, &published, &priority, &signerPubKey, &signature, &isLatest)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan message: %w", err)
	}
	msg, err := messageFromSignedData([]byte(signedData))
	if err != nil {
		return nil, err
	}
	msg.SignerPubKey = signerPubKey
	msg.Signature = signature
	msg.Published = published == 1
	msg.Priority = priority
	msg.IsLatest = isLatest == 1
	return msg, nil
}

// messageFromSignedData rebuilds the payload fields from stored canonical
// signed-data bytes. Stored rows are trusted to be canonical already.
func messageFromSignedData(data []byte) (*Message, error) {
	var sd signedDataWire
	if err := json.Unmarshal(data, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if sd.Timestamp == nil || sd.Type == nil {
		return nil, ErrMissingField
	}
	author, err := identifiersFromWire(sd.Author, "author")
	if err != nil {
		return nil, err
	}
	recipient, err := identifiersFromWire(sd.Recipient, "recipient")
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Timestamp: *sd.Timestamp,
		Author:    author,
		Recipient: recipient,
		Type:      *sd.Type,
	}
	if sd.Comment != nil {
		msg.Comment = *sd.Comment
	}
	if sd.Rating != nil && sd.MinRating != nil && sd.MaxRating != nil {
		msg.HasRating = true
		msg.Rating = *sd.Rating
		msg.MinRating = *sd.MinRating
		msg.MaxRating = *sd.MaxRating
	}
	return msg, nil
}

// isFullErr reports whether err is the sqlite page-budget-exhausted
// condition that the eviction loop recovers from.
func isFullErr(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()&0xff == sqlitelib.SQLITE_FULL
	}
	return false
}
