package rpcserver

import (
	"encoding/json"
	"fmt"

	"trustmesh/core"
)

// rpcParams is the union of the named parameters the commands accept.
// Unused fields stay at their zero values.
type rpcParams struct {
	Hash        string          `json:"hash"`
	ID          core.Identifier `json:"id"`
	ID1         core.Identifier `json:"id1"`
	ID2         core.Identifier `json:"id2"`
	Author      core.Identifier `json:"author"`
	Recipient   core.Identifier `json:"recipient"`
	Viewpoint   core.Identifier `json:"viewpoint"`
	MaxDistance int             `json:"maxDistance"`
	MsgType     string          `json:"msgType"`
	LatestOnly  bool            `json:"latestOnly"`
	Limit       int             `json:"limit"`
	Offset      int             `json:"offset"`
	Depth       int             `json:"depth"`
	Timestamp   int64           `json:"timestamp"`
	Query       string          `json:"query"`
	Predicate   string          `json:"predicate"`
	Rating      int             `json:"rating"`
	Comment     string          `json:"comment"`
	Publish     *bool           `json:"publish"`
	Sign        *bool           `json:"sign"`
	Data        json.RawMessage `json:"data"`
	Key         string          `json:"key"`
	KeyID       string          `json:"keyID"`
	SetDefault  bool            `json:"setDefault"`
	PubKey      string          `json:"pubKey"`
	Signature   string          `json:"signature"`
}

func (p rpcParams) publish() bool { return p.Publish == nil || *p.Publish }
func (p rpcParams) sign() bool    { return p.Sign == nil || *p.Sign }

func (p rpcParams) filter() core.MessageFilter {
	return core.MessageFilter{
		Viewpoint:   p.Viewpoint,
		MaxDistance: p.MaxDistance,
		MsgType:     p.MsgType,
		LatestOnly:  p.LatestOnly,
		Limit:       p.Limit,
		Offset:      p.Offset,
	}
}

type commandFunc func(*Server, json.RawMessage) (any, error)

func decode(raw json.RawMessage) (rpcParams, error) {
	var p rpcParams
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, fmt.Errorf("bad params: %w", err)
	}
	return p, nil
}

func command(fn func(*Server, rpcParams) (any, error)) commandFunc {
	return func(s *Server, raw json.RawMessage) (any, error) {
		p, err := decode(raw)
		if err != nil {
			return nil, err
		}
		return fn(s, p)
	}
}

var commands = map[string]commandFunc{
	"getmsgcount": command(func(s *Server, _ rpcParams) (any, error) {
		return s.store.MessageCount()
	}),
	"getidentifiercount": command(func(s *Server, _ rpcParams) (any, error) {
		return s.store.IdentifierCount()
	}),
	"getmsgbyhash": command(func(s *Server, p rpcParams) (any, error) {
		msg, err := s.store.GetMessageByHash(p.Hash)
		if err == core.ErrNotFound {
			return []any{}, nil
		}
		if err != nil {
			return nil, err
		}
		return s.renderMessage(msg), nil
	}),
	"getmsgsbyauthor": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesByAuthor(p.ID, p.filter())
		return s.renderMessages(msgs), err
	}),
	"getmsgsbyrecipient": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesByRecipient(p.ID, p.filter())
		return s.renderMessages(msgs), err
	}),
	"getmsgsafter": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesAfterTimestamp(p.Timestamp, p.filter())
		return s.renderMessages(msgs), err
	}),
	"getlatestmsgs": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetLatestMessages(p.filter())
		return s.renderMessages(msgs), err
	}),
	"getmsgsafterhash": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesAfterMessage(p.Hash, p.filter())
		if err != nil {
			return nil, err
		}
		return s.renderMessages(msgs), nil
	}),
	"getmsgsbeforehash": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesBeforeMessage(p.Hash, p.filter())
		if err != nil {
			return nil, err
		}
		return s.renderMessages(msgs), nil
	}),
	"getmsgsbysigner": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetMessagesBySigner(p.KeyID, p.filter())
		return s.renderMessages(msgs), err
	}),
	"getpaths": command(func(s *Server, p rpcParams) (any, error) {
		depth := p.Depth
		if depth <= 0 {
			depth = 3
		}
		return s.store.GetPaths(p.ID1, p.ID2, depth)
	}),
	"gettrustdistance": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.TrustDistance(p.ID1, p.ID2)
	}),
	"getconnections": command(func(s *Server, p rpcParams) (any, error) {
		links, err := s.store.Connections(p.ID, p.Viewpoint, p.MaxDistance, p.Limit, p.Offset)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(links))
		for _, l := range links {
			out = append(out, map[string]any{
				"predicate":     l.ID.Predicate,
				"value":         l.ID.Value,
				"confirmations": l.Confirmations,
				"refutations":   l.Refutations,
			})
		}
		return out, nil
	}),
	"getconnectingmsgs": command(func(s *Server, p rpcParams) (any, error) {
		msgs, err := s.store.GetConnectingMessages(p.ID1, p.ID2, p.filter())
		return s.renderMessages(msgs), err
	}),
	"search": command(func(s *Server, p rpcParams) (any, error) {
		results, err := s.store.SearchForID(p.Query, p.Predicate, p.Viewpoint, p.Limit, p.Offset)
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(results))
		for _, r := range results {
			out = append(out, map[string]any{
				"predicate": r.ID.Predicate,
				"value":     r.ID.Value,
				"name":      r.Name,
				"email":     r.Email,
			})
		}
		return out, nil
	}),
	"overview": command(func(s *Server, p rpcParams) (any, error) {
		o, err := s.store.GetIDOverview(p.ID, p.Viewpoint, p.MaxDistance)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"authoredPositive": o.AuthoredPositive,
			"authoredNeutral":  o.AuthoredNeutral,
			"authoredNegative": o.AuthoredNegative,
			"receivedPositive": o.ReceivedPositive,
			"receivedNeutral":  o.ReceivedNeutral,
			"receivedNegative": o.ReceivedNegative,
			"firstSeen":        o.FirstSeen,
			"trustMapSize":     o.TrustMapSize,
			"name":             o.Name,
			"email":            o.Email,
		}, nil
	}),
	"rate": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.Rate(p.Recipient, p.Rating, p.Comment, p.publish())
	}),
	"saverating": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.SaveRating(p.Author, p.Recipient, p.Rating, p.Comment, p.publish())
	}),
	"saveconnection": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.SaveConnection(p.Author, p.ID1, p.ID2, p.publish())
	}),
	"refuteconnection": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.RefuteConnection(p.Author, p.ID1, p.ID2, p.publish())
	}),
	"savemsgfromdata": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.SaveMessageFromData(p.Data, p.publish(), p.sign())
	}),
	"deletemsg": command(func(s *Server, p rpcParams) (any, error) {
		return "ok", s.store.DropMessage(p.Hash)
	}),
	"publish": command(func(s *Server, p rpcParams) (any, error) {
		return "ok", s.store.Publish(p.Hash)
	}),
	"generatetrustmap": command(func(s *Server, p rpcParams) (any, error) {
		if p.ID.IsZero() {
			for _, keyID := range s.store.MyKeyIDs() {
				s.store.AddToTrustMapQueue(core.Identifier{Predicate: "keyID", Value: keyID}, p.Depth)
			}
			return "ok", nil
		}
		return "ok", s.store.GenerateTrustMap(p.ID, p.Depth)
	}),
	"gettrustmapsize": command(func(s *Server, p rpcParams) (any, error) {
		return s.store.TrustMapSize(p.ID)
	}),
	"listmykeys": command(func(s *Server, _ rpcParams) (any, error) {
		keys, err := s.store.MyKeys()
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, 0, len(keys))
		for _, k := range keys {
			out = append(out, map[string]any{
				"pubKey":  k.PubKey,
				"keyID":   k.KeyID,
				"default": k.IsDefault,
			})
		}
		return out, nil
	}),
	"importprivkey": command(func(s *Server, p rpcParams) (any, error) {
		key, err := s.store.ImportPrivKey(p.Key, p.SetDefault)
		if err != nil {
			return nil, err
		}
		return map[string]any{"pubKey": key.PubKey, "keyID": key.KeyID}, nil
	}),
	"getnewkey": command(func(s *Server, _ rpcParams) (any, error) {
		key, err := s.store.NewKey()
		if err != nil {
			return nil, err
		}
		return map[string]any{"pubKey": key.PubKey, "keyID": key.KeyID, "privKey": key.PrivKey}, nil
	}),
	"setdefaultkey": command(func(s *Server, p rpcParams) (any, error) {
		return "ok", s.store.SetDefaultKey(p.Key)
	}),
	"addsignature": command(func(s *Server, p rpcParams) (any, error) {
		return "ok", s.store.AddSignature(p.Hash, p.PubKey, p.Signature)
	}),
}

func (s *Server) renderMessages(msgs []*core.Message) []map[string]any {
	out := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, s.renderMessage(m))
	}
	return out
}

func (s *Server) renderMessage(m *core.Message) map[string]any {
	authorName, recipientName := s.store.MessageLinkedNames(m)
	authorEmail, recipientEmail := s.store.MessageLinkedEmails(m)
	signerName := ""
	if keyID := s.store.SavedKeyID(m.SignerPubKey); keyID != "" {
		signerName = s.store.CachedName(core.Identifier{Predicate: "keyID", Value: keyID})
	}
	return map[string]any{
		"hash":           m.Hash(),
		"data":           json.RawMessage(m.Canonical()),
		"published":      m.Published,
		"priority":       m.Priority,
		"isLatest":       m.IsLatest,
		"authorName":     authorName,
		"recipientName":  recipientName,
		"authorEmail":    authorEmail,
		"recipientEmail": recipientEmail,
		"signerName":     signerName,
	}
}
