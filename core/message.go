package core

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// Codec-level failure modes. Both satisfy errors.Is(err, ErrInvalidFormat)
// so callers that only care about accept/reject need a single check.
var (
	ErrMissingField  = fmt.Errorf("%w: missing field", ErrInvalidFormat)
	ErrUnsortedLists = fmt.Errorf("%w: identifier lists not in canonical order", ErrInvalidFormat)
)

// Message is an immutable signed attestation between author identifiers and
// recipient identifiers. The signed portion is serialized canonically; the
// hash is a pure function of those bytes.
type Message struct {
	Timestamp int64
	Author    []Identifier
	Recipient []Identifier
	Type      string
	Comment   string

	// Rating fields are only meaningful when HasRating is set; they are
	// omitted from the canonical form otherwise.
	Rating    int
	MinRating int
	MaxRating int
	HasRating bool

	// Signature over the canonical signed-data bytes.
	SignerPubKey string
	Signature    string

	// Store-managed state, not part of the signed payload.
	Published bool
	Priority  int
	IsLatest  bool
}

// Message type names with connection semantics. Connection messages never
// take part in IsLatest deduplication or interval replacement.
const (
	TypeRating            = "rating"
	TypeConfirmConnection = "confirm_connection"
	TypeRefuteConnection  = "refute_connection"
)

func (m *Message) isConnectionType() bool {
	return m.Type == TypeConfirmConnection || m.Type == TypeRefuteConnection
}

// IsPositive reports whether the rating lies above the midpoint of its
// scale. Messages without a rating are never positive.
func (m *Message) IsPositive() bool {
	if !m.HasRating {
		return false
	}
	return m.Rating > (m.MinRating+m.MaxRating)/2
}

// CanonicalSignedData emits the signed portion with fields in fixed order
// and no extraneous whitespace. These exact bytes are hashed and signed.
func (m *Message) CanonicalSignedData() []byte {
	var b bytes.Buffer
	b.WriteString(`{"timestamp":`)
	b.WriteString(strconv.FormatInt(m.Timestamp, 10))
	b.WriteString(`,"author":`)
	writeIdentifierList(&b, m.Author)
	b.WriteString(`,"recipient":`)
	writeIdentifierList(&b, m.Recipient)
	b.WriteString(`,"type":`)
	writeJSONString(&b, m.Type)
	if m.Comment != "" {
		b.WriteString(`,"comment":`)
		writeJSONString(&b, m.Comment)
	}
	if m.HasRating {
		b.WriteString(`,"rating":`)
		b.WriteString(strconv.Itoa(m.Rating))
		b.WriteString(`,"minRating":`)
		b.WriteString(strconv.Itoa(m.MinRating))
		b.WriteString(`,"maxRating":`)
		b.WriteString(strconv.Itoa(m.MaxRating))
	}
	b.WriteByte('}')
	return b.Bytes()
}

// Canonical emits the full message envelope: signed data plus signature.
func (m *Message) Canonical() []byte {
	var b bytes.Buffer
	b.WriteString(`{"signedData":`)
	b.Write(m.CanonicalSignedData())
	b.WriteString(`,"signature":`)
	if m.SignerPubKey == "" && m.Signature == "" {
		b.WriteString(`{}`)
	} else {
		b.WriteString(`{"signerPubKey":`)
		writeJSONString(&b, m.SignerPubKey)
		b.WriteString(`,"signature":`)
		writeJSONString(&b, m.Signature)
		b.WriteByte('}')
	}
	b.WriteByte('}')
	return b.Bytes()
}

// Hash returns the base64 encoding of the SHA-256 digest of the canonical
// signed-data bytes.
func (m *Message) Hash() string {
	sum := sha256.Sum256(m.CanonicalSignedData())
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Sign populates SignerPubKey and Signature by signing the digest of the
// canonical signed-data bytes with the given private key.
func (m *Message) Sign(key *Key) error {
	if key == nil || key.priv == nil {
		return ErrUnknownKey
	}
	sum := sha256.Sum256(m.CanonicalSignedData())
	sig := secpecdsa.Sign(key.priv, sum[:])
	m.SignerPubKey = key.PubKey
	m.Signature = base64.StdEncoding.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks the signature over the canonical signed-data bytes.
func (m *Message) Verify() bool {
	if m.SignerPubKey == "" || m.Signature == "" {
		return false
	}
	pub, err := parsePubKey(m.SignerPubKey)
	if err != nil {
		return false
	}
	der, err := base64.StdEncoding.DecodeString(m.Signature)
	if err != nil {
		return false
	}
	sig, err := secpecdsa.ParseDERSignature(der)
	if err != nil {
		return false
	}
	sum := sha256.Sum256(m.CanonicalSignedData())
	return sig.Verify(sum[:], pub)
}

func parsePubKey(encoded string) (*secp256k1.PublicKey, error) {
	raw := decodeBase58(encoded)
	if len(raw) == 0 {
		return nil, ErrInvalidSignature
	}
	return secp256k1.ParsePubKey(raw)
}

// wire structures used only for strict parsing.

type messageWire struct {
	SignedData json.RawMessage `json:"signedData"`
	Signature  json.RawMessage `json:"signature"`
}

type signedDataWire struct {
	Timestamp *int64     `json:"timestamp"`
	Author    [][]string `json:"author"`
	Recipient [][]string `json:"recipient"`
	Type      *string    `json:"type"`
	Comment   *string    `json:"comment"`
	Rating    *int       `json:"rating"`
	MinRating *int       `json:"minRating"`
	MaxRating *int       `json:"maxRating"`
}

type signatureWire struct {
	SignerPubKey string `json:"signerPubKey"`
	Signature    string `json:"signature"`
}

// ParseMessage decodes a message envelope. Input that does not reproduce
// itself byte-for-byte through the canonicalizer is rejected, so every
// accepted message satisfies hash(bytes) == hash(canonicalize(parse(bytes))).
func ParseMessage(data []byte) (*Message, error) {
	var wire messageWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if wire.SignedData == nil {
		return nil, fmt.Errorf("%w: signedData", ErrMissingField)
	}

	var sd signedDataWire
	if err := json.Unmarshal(wire.SignedData, &sd); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
	}
	if sd.Timestamp == nil {
		return nil, fmt.Errorf("%w: timestamp", ErrMissingField)
	}
	if sd.Type == nil || *sd.Type == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	author, err := identifiersFromWire(sd.Author, "author")
	if err != nil {
		return nil, err
	}
	recipient, err := identifiersFromWire(sd.Recipient, "recipient")
	if err != nil {
		return nil, err
	}
	if !identifiersSorted(author) || !identifiersSorted(recipient) {
		return nil, ErrUnsortedLists
	}

	hasRating := sd.Rating != nil || sd.MinRating != nil || sd.MaxRating != nil
	if hasRating && (sd.Rating == nil || sd.MinRating == nil || sd.MaxRating == nil) {
		return nil, fmt.Errorf("%w: partial rating triplet", ErrMissingField)
	}

	msg := &Message{
		Timestamp: *sd.Timestamp,
		Author:    author,
		Recipient: recipient,
		Type:      *sd.Type,
		HasRating: hasRating,
	}
	if sd.Comment != nil {
		msg.Comment = *sd.Comment
	}
	if hasRating {
		msg.Rating = *sd.Rating
		msg.MinRating = *sd.MinRating
		msg.MaxRating = *sd.MaxRating
	}

	if len(wire.Signature) > 0 && !bytes.Equal(wire.Signature, []byte("{}")) {
		var sig signatureWire
		if err := json.Unmarshal(wire.Signature, &sig); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		msg.SignerPubKey = sig.SignerPubKey
		msg.Signature = sig.Signature
	}

	if !bytes.Equal(msg.Canonical(), data) {
		return nil, fmt.Errorf("%w: input is not canonical", ErrInvalidFormat)
	}
	return msg, nil
}

func identifiersFromWire(pairs [][]string, field string) ([]Identifier, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingField, field)
	}
	ids := make([]Identifier, 0, len(pairs))
	for _, p := range pairs {
		if len(p) != 2 || p[0] == "" {
			return nil, fmt.Errorf("%w: malformed %s identifier", ErrInvalidFormat, field)
		}
		ids = append(ids, Identifier{Predicate: p[0], Value: p[1]})
	}
	return ids, nil
}

func writeIdentifierList(b *bytes.Buffer, ids []Identifier) {
	b.WriteByte('[')
	for i, id := range ids {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('[')
		writeJSONString(b, id.Predicate)
		b.WriteByte(',')
		writeJSONString(b, id.Value)
		b.WriteByte(']')
	}
	b.WriteByte(']')
}

func writeJSONString(b *bytes.Buffer, s string) {
	enc, _ := json.Marshal(s)
	b.Write(enc)
}

// NewRating builds an unsigned rating message on the default -10..10 scale.
// Author and recipient lists are sorted into canonical order.
func NewRating(timestamp int64, author, recipient []Identifier, rating int, comment string) *Message {
	sortIdentifiers(author)
	sortIdentifiers(recipient)
	return &Message{
		Timestamp: timestamp,
		Author:    author,
		Recipient: recipient,
		Type:      TypeRating,
		Comment:   comment,
		Rating:    rating,
		MinRating: -10,
		MaxRating: 10,
		HasRating: true,
	}
}

// NewConnection builds an unsigned confirm_connection or refute_connection
// message linking id1 and id2 from the given author.
func NewConnection(timestamp int64, author []Identifier, id1, id2 Identifier, confirm bool) *Message {
	typ := TypeConfirmConnection
	if !confirm {
		typ = TypeRefuteConnection
	}
	recipient := []Identifier{id1, id2}
	sortIdentifiers(author)
	sortIdentifiers(recipient)
	return &Message{
		Timestamp: timestamp,
		Author:    author,
		Recipient: recipient,
		Type:      typ,
	}
}
