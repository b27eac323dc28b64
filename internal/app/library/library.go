// Package library wraps the backend's strategy store and AI endpoints: list,
// load, save, analyze, evaluate and begin.
package library

import (
	"context"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	json "github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"

	"github.com/coachpo/stratdeck/errs"
	"github.com/coachpo/stratdeck/internal/infra/backend"
	"github.com/coachpo/stratdeck/internal/infra/config"
	"github.com/coachpo/stratdeck/internal/observability"
)

// Entry is one stored strategy with its versions, newest first.
type Entry struct {
	Name          string   `json:"name"`
	Versions      []string `json:"versions"`
	LatestVersion string   `json:"latestVersion"`
}

// Context identifies the strategy version being edited.
type Context struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	IsLatest bool   `json:"isLatest"`
}

// Document is a loaded strategy.
type Document struct {
	Input      string          `json:"input"`
	JSON       json.RawMessage `json:"json"`
	PineScript string          `json:"pinescript"`
	Context    Context         `json:"context"`
}

// Service talks to the strategy library endpoints. The last listing is
// cached to resolve version context on load.
type Service struct {
	client   backend.Requester
	defaults func() config.Defaults

	mu      sync.Mutex
	entries []Entry
}

// New constructs a Service. A nil defaults source uses the built-in defaults.
func New(client backend.Requester, defaults func() config.Defaults) *Service {
	if defaults == nil {
		defaults = config.DefaultDefaults
	}
	return &Service{client: client, defaults: defaults}
}

// List fetches the stored strategies and refreshes the cache.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	res := s.client.Get(ctx, "/strategies/list")
	if err := res.AsError("library/list"); err != nil {
		return nil, err
	}
	var reply struct {
		List []struct {
			Name          string `json:"name"`
			Versions      []any  `json:"versions"`
			LatestVersion any    `json:"latestVersion"`
		} `json:"list"`
	}
	if err := res.Decode(&reply); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(reply.List))
	for _, item := range reply.List {
		versions := make([]string, 0, len(item.Versions))
		for _, v := range item.Versions {
			if text := versionText(v); text != "" {
				versions = append(versions, text)
			}
		}
		sortVersionsDesc(versions)
		entries = append(entries, Entry{
			Name:          item.Name,
			Versions:      versions,
			LatestVersion: versionText(item.LatestVersion),
		})
	}
	s.mu.Lock()
	s.entries = entries
	s.mu.Unlock()
	return append([]Entry(nil), entries...), nil
}

// Load fetches one strategy. An empty version loads the latest. When no
// listing is cached yet, the listing and the document are fetched together.
func (s *Service) Load(ctx context.Context, name, version string) (Document, error) {
	name = strings.TrimSpace(name)
	version = strings.TrimSpace(version)
	if name == "" {
		return Document{}, errs.Validation("library/load", "strategy name is required")
	}

	var doc Document
	p := pool.New().WithErrors().WithContext(ctx)
	p.Go(func(ctx context.Context) error {
		var err error
		doc, err = s.fetch(ctx, name, version)
		return err
	})
	if !s.cached() {
		p.Go(func(ctx context.Context) error {
			// A failed listing only degrades the version context.
			if _, err := s.List(ctx); err != nil {
				observability.Log().Error("strategy listing failed", observability.F("error", errs.Message(err)))
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return Document{}, err
	}

	doc.Context = s.contextFor(name, version)
	return doc, nil
}

// Save stores a new major version. Only status "saved" counts as success.
func (s *Service) Save(ctx context.Context, name, input string, document json.RawMessage, pineScript string, base Context) (Context, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Context{}, errs.Validation("library/save", "Name is required")
	}
	body := map[string]any{
		"name":       name,
		"input":      input,
		"json":       rawOrNull(document),
		"pinescript": pineScript,
		"type":       "major",
	}
	if base.Version != "" {
		body["baseVersion"] = base.Version
	}
	res := s.client.Post(ctx, "/strategies/save", body)
	if err := res.AsError("library/save"); err != nil {
		return Context{}, err
	}
	var reply struct {
		Status  string `json:"status"`
		Version any    `json:"version"`
	}
	if err := res.Decode(&reply); err != nil {
		return Context{}, err
	}
	if reply.Status != "saved" {
		return Context{}, unexpectedStatus("library/save", reply.Status)
	}
	observability.Log().Info("strategy saved", observability.F("name", name))
	return Context{Name: name, Version: versionText(reply.Version), IsLatest: true}, nil
}

func (s *Service) fetch(ctx context.Context, name, version string) (Document, error) {
	path := "/strategies/" + url.PathEscape(name)
	if version != "" {
		path += "/" + url.PathEscape(version)
	}
	res := s.client.Get(ctx, path)
	if err := res.AsError("library/load"); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := res.Decode(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func (s *Service) cached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries != nil
}

func (s *Service) contextFor(name, version string) Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	var meta *Entry
	for i := range s.entries {
		if s.entries[i].Name == name {
			meta = &s.entries[i]
			break
		}
	}
	out := Context{Name: name, Version: version, IsLatest: version == ""}
	if version == "" {
		out.Version = "0"
		if meta != nil && meta.LatestVersion != "" {
			out.Version = meta.LatestVersion
		}
	} else if meta != nil && version == meta.LatestVersion {
		out.IsLatest = true
	}
	return out
}

func versionText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return ""
	}
}

// sortVersionsDesc orders numeric versions newest first. Non-numeric
// versions sort after numeric ones, lexically descending.
func sortVersionsDesc(versions []string) {
	sort.SliceStable(versions, func(i, j int) bool {
		a, aErr := strconv.ParseFloat(versions[i], 64)
		b, bErr := strconv.ParseFloat(versions[j], 64)
		switch {
		case aErr == nil && bErr == nil:
			return a > b
		case aErr == nil:
			return true
		case bErr == nil:
			return false
		default:
			return versions[i] > versions[j]
		}
	})
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}

func unexpectedStatus(op, status string) error {
	msg := "unexpected status"
	if status != "" {
		msg += ": " + status
	}
	return errs.New(op, errs.CodeBackend, errs.WithMessage(msg))
}
