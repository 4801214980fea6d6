// Package adapter implements the thin operation-dispatch surface
// (spec component F) that a wire transport is assumed to sit on top
// of. It translates a Request into a call against whichever Backend
// it is wired to — a bare engine, a primary-secondary cluster, or a
// quorum cluster — and produces a Response. No socket or framing code
// lives here; that is explicitly out of scope (spec.md §1).
package adapter

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/finch-kv/durakv/internal/engine"
	"github.com/finch-kv/durakv/internal/errs"
	"github.com/finch-kv/durakv/internal/wal"
)

// Op is one of the six operations the wire protocol exposes.
type Op string

const (
	OpSet             Op = "set"
	OpGet             Op = "get"
	OpDelete          Op = "delete"
	OpBulkSet         Op = "bulk_set"
	OpSearchFullText  Op = "search_full_text"
	OpSearchEmbedding Op = "search_embedding"
)

// Request is one wire frame sent to a node.
type Request struct {
	Op    Op         `json:"op"`
	Key   string     `json:"key,omitempty"`
	Value string     `json:"value,omitempty"`
	Items []wal.Pair `json:"items,omitempty"`
	Query string     `json:"query,omitempty"`
	TopK  int        `json:"top_k,omitempty"`
}

// Response is the single frame returned for a Request.
type Response struct {
	OK      bool               `json:"ok"`
	Value   string             `json:"value,omitempty"`
	Existed *bool              `json:"existed,omitempty"`
	Keys    []string           `json:"keys,omitempty"`
	Results []engine.ScoredKey `json:"results,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// Backend is the operation set a Request is dispatched against.
// *engine.Engine, *cluster.Primary, and *cluster.Quorum each have a
// thin wrapper in this package that implements it.
type Backend interface {
	Set(key, value string) error
	Get(key string) (value string, ok bool, err error)
	Delete(key string) error
	BulkSet(items []wal.Pair) error
	SearchFullText(query string) (map[string]struct{}, error)
	SearchEmbedding(query string, topK int) ([]engine.ScoredKey, error)
}

// ExistedReporter is an optional capability: backends that can report
// whether a deleted key existed implement it. The quorum cluster
// cannot make that claim about the whole cluster and so does not.
type ExistedReporter interface {
	DeleteReportingExisted(key string) (existed bool, err error)
}

// Dispatch translates req into a call on b and builds the Response.
// Peer-level errors already logged deeper in the stack never surface
// here beyond the Error field.
func Dispatch(b Backend, req Request) Response {
	switch req.Op {
	case OpSet:
		if err := validateKey(req.Key); err != nil {
			return errResponse(err)
		}
		if err := b.Set(req.Key, req.Value); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpGet:
		if err := validateKey(req.Key); err != nil {
			return errResponse(err)
		}
		value, ok, err := b.Get(req.Key)
		if err != nil {
			return errResponse(err)
		}
		if !ok {
			return Response{OK: true}
		}
		return Response{OK: true, Value: value}

	case OpDelete:
		if err := validateKey(req.Key); err != nil {
			return errResponse(err)
		}
		if er, ok := b.(ExistedReporter); ok {
			existed, err := er.DeleteReportingExisted(req.Key)
			if err != nil {
				return errResponse(err)
			}
			return Response{OK: true, Existed: &existed}
		}
		if err := b.Delete(req.Key); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpBulkSet:
		if len(req.Items) == 0 {
			return errResponse(fmt.Errorf("bulk_set requires at least one item: %w", errs.ErrProtocol))
		}
		for _, item := range req.Items {
			if err := validateKey(item[0]); err != nil {
				return errResponse(err)
			}
		}
		if err := b.BulkSet(req.Items); err != nil {
			return errResponse(err)
		}
		return Response{OK: true}

	case OpSearchFullText:
		keys, err := b.SearchFullText(req.Query)
		if err != nil {
			return errResponse(err)
		}
		out := make([]string, 0, len(keys))
		for k := range keys {
			out = append(out, k)
		}
		sort.Strings(out)
		return Response{OK: true, Keys: out}

	case OpSearchEmbedding:
		results, err := b.SearchEmbedding(req.Query, req.TopK)
		if err != nil {
			return errResponse(err)
		}
		return Response{OK: true, Results: results}

	default:
		return errResponse(fmt.Errorf("unknown op %q: %w", req.Op, errs.ErrProtocol))
	}
}

func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key must not be empty: %w", errs.ErrProtocol)
	}
	return nil
}

func errResponse(err error) Response {
	return Response{OK: false, Error: err.Error()}
}

// MarshalRequest, UnmarshalRequest and MarshalResponse encode and
// decode frames through the
// same JSON codec the WAL uses, so a transport layer built on top of
// this package stays consistent with the on-disk format.
func MarshalRequest(req Request) ([]byte, error) {
	return json.Marshal(req)
}

func UnmarshalRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("adapter: decode request: %w: %v", errs.ErrProtocol, err)
	}
	return req, nil
}

func MarshalResponse(resp Response) ([]byte, error) {
	return json.Marshal(resp)
}
