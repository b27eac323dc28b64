// Package httpserver exposes the operator control API and the snapshot push
// stream.
package httpserver

import (
	"net/http"
	"strconv"
	"strings"

	json "github.com/goccy/go-json"

	"github.com/coachpo/stratdeck/internal/app/diagnostics"
	"github.com/coachpo/stratdeck/internal/app/dispatcher"
	"github.com/coachpo/stratdeck/internal/app/library"
	"github.com/coachpo/stratdeck/internal/app/monitor"
	"github.com/coachpo/stratdeck/internal/app/orchestration"
	"github.com/coachpo/stratdeck/internal/infra/config"
)

const (
	healthPath        = "/api/health"
	healthRecheckPath = healthPath + "/recheck"

	strategiesPath       = "/api/strategies"
	strategyDetailPrefix = strategiesPath + "/"

	positionsPath          = "/api/positions"
	positionsCollapsedPath = positionsPath + "/collapsed"

	actionsPath       = "/api/actions"
	actionKindPrefix  = actionsPath + "/"
	arsenalPath       = "/api/arsenal"
	arsenalItemPrefix = arsenalPath + "/"

	orchestrationPath   = "/api/orchestration"
	orchestrationPrefix = orchestrationPath + "/"

	inferencePath      = "/api/inference"
	inferencePrefix    = inferencePath + "/"
	inferenceRowsPath  = inferencePath + "/rows"
	inferenceRowPrefix = inferenceRowsPath + "/"

	libraryPath   = "/api/library"
	libraryPrefix = libraryPath + "/"

	defaultsPath = "/api/defaults"
	streamPath   = "/api/stream"
)

// Deps are the application services behind the API.
type Deps struct {
	Diagnostics *diagnostics.Checker
	Strategies  *monitor.StrategiesView
	Positions   *monitor.PositionsView
	Dispatcher  *dispatcher.Dispatcher
	Session     *orchestration.Session
	Batch       *orchestration.Batch
	Library     *library.Service
	Defaults    *config.RuntimeStore
	Hub         *Hub

	// OnDefaults observes every accepted defaults replacement.
	OnDefaults func(config.Defaults)
}

type httpServer struct {
	Deps
}

// NewHandler builds the control API handler.
func NewHandler(deps Deps) http.Handler {
	s := &httpServer{Deps: deps}
	mux := http.NewServeMux()

	mux.Handle(healthPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getHealth,
	}))
	mux.Handle(healthRecheckPath, methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.recheckHealth,
	}))

	mux.Handle(strategiesPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getStrategies,
	}))
	mux.Handle(strategyDetailPrefix, http.HandlerFunc(s.handleStrategy))

	mux.Handle(positionsPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getPositions,
	}))
	mux.Handle(positionsCollapsedPath, methodHandlers(map[string]handlerFunc{
		http.MethodPut: s.setPositionsCollapsed,
	}))

	mux.Handle(actionsPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.listActions,
	}))
	mux.Handle(actionKindPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodGet:  s.seedAction,
		http.MethodPost: s.dispatchAction,
	}))
	mux.Handle(arsenalPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getArsenal,
	}))
	mux.Handle(arsenalItemPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.executeArsenal,
	}))

	mux.Handle(orchestrationPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getOrchestration,
	}))
	mux.Handle(orchestrationPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.orchestrationAction,
	}))

	mux.Handle(inferencePath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getInference,
	}))
	mux.Handle(inferencePrefix, methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.inferenceAction,
	}))
	mux.Handle(inferenceRowsPath, methodHandlers(map[string]handlerFunc{
		http.MethodPost: s.addInferenceRow,
	}))
	mux.Handle(inferenceRowPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodPut:    s.editInferenceRow,
		http.MethodDelete: s.removeInferenceRow,
	}))

	mux.Handle(libraryPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.listLibrary,
	}))
	mux.Handle(libraryPrefix, methodHandlers(map[string]handlerFunc{
		http.MethodGet:  s.getLibrary,
		http.MethodPost: s.libraryAction,
	}))

	mux.Handle(defaultsPath, methodHandlers(map[string]handlerFunc{
		http.MethodGet: s.getDefaults,
		http.MethodPut: s.putDefaults,
	}))

	if s.Hub != nil {
		mux.Handle(streamPath, s.Hub)
	}

	return withCORS(mux)
}

func (s *httpServer) getHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Diagnostics.State())
}

func (s *httpServer) recheckHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Diagnostics.Recheck(r.Context()))
}

func (s *httpServer) getStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Strategies.Snapshot(monitor.ParseTab(r.URL.Query().Get("tab"))))
}

func (s *httpServer) handleStrategy(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, strategyDetailPrefix), "/")
	id, action, _ := strings.Cut(rest, "/")
	id = strings.TrimSpace(id)
	if id == "" || action != "stop" {
		writeError(w, http.StatusNotFound, "unsupported strategy route")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	if err := s.Strategies.StopStrategy(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": id})
}

func (s *httpServer) getPositions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Positions.Snapshot())
}

func (s *httpServer) setPositionsCollapsed(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Collapsed bool `json:"collapsed"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	s.Positions.SetCollapsed(payload.Collapsed)
	writeJSON(w, http.StatusOK, s.Positions.Snapshot())
}

type actionInfo struct {
	Kind     dispatcher.Kind `json:"kind"`
	Title    string          `json:"title"`
	Endpoint string          `json:"endpoint"`
	Required []string        `json:"required"`
}

func (s *httpServer) listActions(w http.ResponseWriter, _ *http.Request) {
	kinds := dispatcher.Kinds()
	out := make([]actionInfo, 0, len(kinds))
	for _, kind := range kinds {
		route, _ := dispatcher.Lookup(kind)
		out = append(out, actionInfo{Kind: route.Kind, Title: route.Title, Endpoint: route.Endpoint, Required: route.Required})
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": out})
}

func (s *httpServer) seedAction(w http.ResponseWriter, r *http.Request) {
	kind := dispatcher.Kind(strings.Trim(strings.TrimPrefix(r.URL.Path, actionKindPrefix), "/"))
	initial := dispatcher.Params{}
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			initial[key] = values[0]
		}
	}
	route, params, err := s.Dispatcher.Seed(kind, initial)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kind": route.Kind, "title": route.Title, "params": params})
}

func (s *httpServer) dispatchAction(w http.ResponseWriter, r *http.Request) {
	kind := dispatcher.Kind(strings.Trim(strings.TrimPrefix(r.URL.Path, actionKindPrefix), "/"))
	var raw map[string]any
	if err := decodeBody(w, r, &raw); err != nil {
		writeDecodeError(w, err)
		return
	}
	outcome, err := s.Dispatcher.Dispatch(r.Context(), kind, paramsFrom(raw))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (s *httpServer) getArsenal(w http.ResponseWriter, r *http.Request) {
	defs, err := s.Dispatcher.Arsenal(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": defs})
}

func (s *httpServer) executeArsenal(w http.ResponseWriter, r *http.Request) {
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, arsenalItemPrefix), "/")
	var payload struct {
		Params map[string]any `json:"params"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	out, err := s.Dispatcher.Execute(r.Context(), id, payload.Params)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *httpServer) getOrchestration(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *httpServer) orchestrationAction(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, orchestrationPrefix), "/")
	var err error
	switch action {
	case "analyze":
		var payload struct {
			Code string `json:"code"`
		}
		if derr := decodeBody(w, r, &payload); derr != nil {
			writeDecodeError(w, derr)
			return
		}
		_, err = s.Session.Analyze(r.Context(), payload.Code)
	case "start":
		var cfg orchestration.LiveConfig
		if derr := decodeBody(w, r, &cfg); derr != nil {
			writeDecodeError(w, derr)
			return
		}
		err = s.Session.Start(r.Context(), cfg)
	case "stop":
		err = s.Session.Stop(r.Context())
	case "ack":
		err = s.Session.Acknowledge(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Session.Snapshot())
}

func (s *httpServer) getInference(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Batch.Snapshot())
}

func (s *httpServer) inferenceAction(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, inferencePrefix), "/")
	var err error
	switch action {
	case "analyze":
		var payload struct {
			Code string `json:"code"`
		}
		if derr := decodeBody(w, r, &payload); derr != nil {
			writeDecodeError(w, derr)
			return
		}
		_, err = s.Batch.Analyze(r.Context(), payload.Code)
	case "execute":
		_, err = s.Batch.Execute(r.Context())
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
		return
	}
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Batch.Snapshot())
}

func (s *httpServer) addInferenceRow(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.Batch.AddRow(); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Batch.Snapshot())
}

func (s *httpServer) editInferenceRow(w http.ResponseWriter, r *http.Request) {
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	var payload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeBody(w, r, &payload); err != nil {
		writeDecodeError(w, err)
		return
	}
	if err := s.Batch.EditCell(index, payload.Key, payload.Value); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Batch.Snapshot())
}

func (s *httpServer) removeInferenceRow(w http.ResponseWriter, r *http.Request) {
	index, ok := rowIndex(w, r)
	if !ok {
		return
	}
	if err := s.Batch.RemoveRow(index); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Batch.Snapshot())
}

func rowIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, inferenceRowPrefix), "/")
	index, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "row index must be an integer")
		return 0, false
	}
	return index, true
}

func (s *httpServer) listLibrary(w http.ResponseWriter, r *http.Request) {
	entries, err := s.Library.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"list": entries})
}

func (s *httpServer) getLibrary(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, libraryPrefix), "/")
	switch rest {
	case "templates":
		writeJSON(w, http.StatusOK, map[string]any{"templates": library.Templates()})
		return
	case "timestamps":
		query := r.URL.Query()
		stamps, err := s.Library.Timestamps(r.Context(), query.Get("symbol"), query.Get("timeframe"))
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"timestamps": stamps})
		return
	}
	name, version, _ := strings.Cut(rest, "/")
	doc, err := s.Library.Load(r.Context(), name, version)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

type savePayload struct {
	Name       string          `json:"name"`
	Input      string          `json:"input"`
	JSON       json.RawMessage `json:"json"`
	PineScript string          `json:"pinescript"`
	Context    library.Context `json:"context"`
}

func (s *httpServer) libraryAction(w http.ResponseWriter, r *http.Request) {
	action := strings.Trim(strings.TrimPrefix(r.URL.Path, libraryPrefix), "/")
	switch action {
	case "save":
		var payload savePayload
		if err := decodeBody(w, r, &payload); err != nil {
			writeDecodeError(w, err)
			return
		}
		ctx, err := s.Library.Save(r.Context(), payload.Name, payload.Input, payload.JSON, payload.PineScript, payload.Context)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "saved", "context": ctx})
	case "analyze":
		var payload struct {
			Input string `json:"input"`
		}
		if err := decodeBody(w, r, &payload); err != nil {
			writeDecodeError(w, err)
			return
		}
		out, err := s.Library.Analyze(r.Context(), payload.Input)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "evaluate":
		var req library.EvaluateRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		out, err := s.Library.Evaluate(r.Context(), req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	case "begin":
		var req library.BeginRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeDecodeError(w, err)
			return
		}
		id, err := s.Library.Begin(r.Context(), req)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "started", "id": id})
	default:
		writeError(w, http.StatusNotFound, "unsupported action")
	}
}

func (s *httpServer) getDefaults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Defaults.Snapshot())
}

func (s *httpServer) putDefaults(w http.ResponseWriter, r *http.Request) {
	var next config.Defaults
	if err := decodeBody(w, r, &next); err != nil {
		writeDecodeError(w, err)
		return
	}
	applied, err := s.Defaults.Replace(next)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.OnDefaults != nil {
		s.OnDefaults(applied)
	}
	writeJSON(w, http.StatusOK, applied)
}

// paramsFrom flattens a decoded JSON object into string parameters.
func paramsFrom(raw map[string]any) dispatcher.Params {
	out := make(dispatcher.Params, len(raw))
	for key, value := range raw {
		switch v := value.(type) {
		case nil:
		case string:
			out[key] = v
		case json.Number:
			out[key] = v.String()
		case bool:
			out[key] = strconv.FormatBool(v)
		default:
			if encoded, err := json.Marshal(v); err == nil {
				out[key] = string(encoded)
			}
		}
	}
	return out
}
