// Package api implements the calculator's REST API: one-shot expression
// evaluation plus saved programs and their runs.
package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/lemonberrylabs/calcd/pkg/expr"
	"github.com/lemonberrylabs/calcd/pkg/session"
	"github.com/lemonberrylabs/calcd/pkg/store"
	"github.com/lemonberrylabs/calcd/pkg/types"
)

// ProgramExt is the file extension loaded by WatchDir.
const ProgramExt = ".calc"

// MaxProgramIDLength is the maximum length of a program ID.
const MaxProgramIDLength = 128

var validProgramID = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidProgramID reports whether id may name a program.
func ValidProgramID(id string) bool {
	return len(id) <= MaxProgramIDLength && validProgramID.MatchString(id)
}

// Server is the REST API server.
type Server struct {
	app   *fiber.App
	store *store.Store
	opts  session.Options
	log   zerolog.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc // active runs
	wg      sync.WaitGroup
}

// New creates a new API server. opts configures every run and evaluation;
// its Interactive flag is ignored.
func New(s *store.Store, opts session.Options, logger zerolog.Logger) *Server {
	opts.Interactive = false
	if opts.Precision == 0 {
		opts.Precision = expr.DefaultPrecision
	}
	srv := &Server{
		store:   s,
		opts:    opts,
		log:     logger,
		cancels: make(map[string]context.CancelFunc),
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
	})
	app.Use(srv.logRequests)

	app.Post("/v1/evaluate", srv.evaluate)

	// Programs
	app.Post("/v1/programs", srv.createProgram)
	app.Get("/v1/programs", srv.listPrograms)
	app.Get("/v1/programs/:program", srv.getProgram)
	app.Patch("/v1/programs/:program", srv.updateProgram)
	app.Delete("/v1/programs/:program", srv.deleteProgram)

	// Runs
	app.Post("/v1/programs/:program/runs", srv.createRun)
	app.Get("/v1/programs/:program/runs", srv.listRuns)
	app.Get("/v1/programs/:program/runs/:run", srv.getRun)
	app.Post("/v1/programs/:program/runs/:run\\:cancel", srv.cancelRun)

	srv.app = app
	return srv
}

// Listen starts the HTTP server on the given address.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown cancels active runs and gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	s.wg.Wait()
	return s.app.Shutdown()
}

// App returns the underlying Fiber app (useful for testing).
func (s *Server) App() *fiber.App {
	return s.app
}

// Wait blocks until every started run has finished.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) logRequests(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.log.Debug().
		Str("method", c.Method()).
		Str("path", c.Path()).
		Int("status", c.Response().StatusCode()).
		Dur("took", time.Since(start)).
		Msg("request")
	return err
}

// --- Evaluate ---

type evaluateRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var req evaluateRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}

	v, err := expr.Evaluate(req.Expression, expr.WithMaxDepth(s.opts.MaxDepth))
	if err != nil {
		return calcErrorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"value":   jsonNumber(v),
		"display": expr.FormatValue(v, s.opts.Precision),
	})
}

// --- Program Handlers ---

type programRequest struct {
	SourceContents string `json:"sourceContents"`
	Description    string `json:"description"`
}

func (s *Server) createProgram(c *fiber.Ctx) error {
	id := c.Query("programId")
	if id == "" {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "programId query parameter is required")
	}
	if !ValidProgramID(id) {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid programId %q", id))
	}

	var req programRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SourceContents == "" {
		return errorJSON(c, 400, "INVALID_ARGUMENT", "sourceContents is required")
	}
	if _, err := expr.Scan(req.SourceContents); err != nil {
		return calcErrorJSON(c, fmt.Errorf("invalid program source: %w", err))
	}

	p, err := s.store.CreateProgram(id, req.SourceContents, req.Description)
	if err != nil {
		return storeErrorJSON(c, err)
	}
	s.log.Info().Str("program", p.Name).Msg("program created")
	return c.Status(200).JSON(programToJSON(p))
}

func (s *Server) getProgram(c *fiber.Ctx) error {
	p, err := s.store.GetProgram(store.ProgramName(c.Params("program")))
	if err != nil {
		return storeErrorJSON(c, err)
	}
	return c.JSON(programToJSON(p))
}

func (s *Server) listPrograms(c *fiber.Ctx) error {
	programs := s.store.ListPrograms()
	items := make([]fiber.Map, len(programs))
	for i, p := range programs {
		items[i] = programToJSON(p)
	}
	return c.JSON(fiber.Map{"programs": items})
}

func (s *Server) updateProgram(c *fiber.Ctx) error {
	var req programRequest
	if err := c.BodyParser(&req); err != nil {
		return errorJSON(c, 400, "INVALID_ARGUMENT", fmt.Sprintf("invalid request body: %v", err))
	}
	if req.SourceContents != "" {
		if _, err := expr.Scan(req.SourceContents); err != nil {
			return calcErrorJSON(c, fmt.Errorf("invalid program source: %w", err))
		}
	}

	p, err := s.store.UpdateProgram(store.ProgramName(c.Params("program")), req.SourceContents, req.Description)
	if err != nil {
		return storeErrorJSON(c, err)
	}
	return c.JSON(programToJSON(p))
}

func (s *Server) deleteProgram(c *fiber.Ctx) error {
	name := store.ProgramName(c.Params("program"))

	s.mu.Lock()
	for runName, cancel := range s.cancels {
		if strings.HasPrefix(runName, name+"/runs/") {
			cancel()
		}
	}
	s.mu.Unlock()

	if err := s.store.DeleteProgram(name); err != nil {
		return storeErrorJSON(c, err)
	}
	return c.JSON(fiber.Map{"name": name, "deleted": true})
}

// --- Run Handlers ---

func (s *Server) createRun(c *fiber.Ctx) error {
	r, err := s.Start(store.ProgramName(c.Params("program")))
	if err != nil {
		return storeErrorJSON(c, err)
	}
	return c.Status(200).JSON(runToJSON(r))
}

// Start begins an asynchronous run of a stored program and returns the run
// as created.
func (s *Server) Start(programName string) (*store.Run, error) {
	p, err := s.store.GetProgram(programName)
	if err != nil {
		return nil, err
	}
	r, err := s.store.CreateRun(programName)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[r.Name] = cancel
	s.mu.Unlock()

	// Run the program asynchronously
	s.wg.Add(1)
	go s.execute(ctx, r.Name, p.Source)
	return r, nil
}

// execute drives a program through a session and records the outcome.
func (s *Server) execute(ctx context.Context, runName, source string) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		if cancel, ok := s.cancels[runName]; ok {
			cancel()
			delete(s.cancels, runName)
		}
		s.mu.Unlock()
	}()

	results, output, err := RunSource(ctx, source, s.opts)
	switch {
	case errors.Is(err, context.Canceled):
		// Already recorded when cancelled through the API.
		if cerr := s.store.CancelRun(runName); cerr != nil && !errors.Is(cerr, store.ErrNotActive) {
			s.log.Warn().Err(cerr).Str("run", runName).Msg("could not record cancellation")
		}
		s.log.Info().Str("run", runName).Msg("run cancelled")
	case err != nil:
		if ferr := s.store.FailRun(runName, results, output, err); ferr != nil {
			s.log.Warn().Err(ferr).Str("run", runName).Msg("could not record failure")
		}
		s.log.Info().Str("run", runName).Err(err).Msg("run failed")
	default:
		if cerr := s.store.CompleteRun(runName, results, output); cerr != nil {
			s.log.Warn().Err(cerr).Str("run", runName).Msg("could not record result")
		}
		s.log.Info().Str("run", runName).Int("results", len(results)).Msg("run succeeded")
	}
}

// RunSource evaluates source as a sequence of statements and returns the
// results together with the printed transcript.
func RunSource(ctx context.Context, source string, opts session.Options) ([]float64, string, error) {
	var out bytes.Buffer
	opts.Interactive = false
	results, err := session.New(strings.NewReader(source), &out, opts).Run(ctx)
	return results, out.String(), err
}

func (s *Server) getRun(c *fiber.Ctx) error {
	r, err := s.store.GetRun(store.RunName(c.Params("program"), c.Params("run")))
	if err != nil {
		return storeErrorJSON(c, err)
	}
	return c.JSON(runToJSON(r))
}

func (s *Server) listRuns(c *fiber.Ctx) error {
	programName := store.ProgramName(c.Params("program"))
	if _, err := s.store.GetProgram(programName); err != nil {
		return storeErrorJSON(c, err)
	}

	runs := s.store.ListRuns(programName)
	items := make([]fiber.Map, len(runs))
	for i, r := range runs {
		items[i] = runToJSON(r)
	}
	return c.JSON(fiber.Map{"runs": items})
}

func (s *Server) cancelRun(c *fiber.Ctx) error {
	name := store.RunName(c.Params("program"), c.Params("run"))

	if err := s.store.CancelRun(name); err != nil {
		return storeErrorJSON(c, err)
	}

	s.mu.Lock()
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}
	s.mu.Unlock()

	r, err := s.store.GetRun(name)
	if err != nil {
		return storeErrorJSON(c, err)
	}
	return c.JSON(runToJSON(r))
}

// --- Directory Loading ---

// WatchDir loads every .calc file in dir as a program. The file name (sans
// extension, lowercased) becomes the program ID.
func (s *Server) WatchDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading programs directory: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := filepath.Ext(name)
		if ext != ProgramExt {
			continue
		}

		base := strings.TrimSuffix(name, ext)
		id := strings.ToLower(base)
		if id != base {
			s.log.Warn().Str("file", name).Str("program", id).Msg("lowercased program ID")
		}
		if !ValidProgramID(id) {
			s.log.Warn().Str("file", name).Str("program", id).Msg("skipping file: invalid program ID")
			continue
		}

		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("could not read program")
			continue
		}
		if _, err := expr.Scan(string(data)); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("could not scan program")
			continue
		}

		if _, err := s.store.CreateProgram(id, string(data), ""); err != nil {
			s.log.Warn().Err(err).Str("file", name).Msg("could not deploy program")
			continue
		}
		loaded++
		s.log.Info().Str("program", id).Str("file", name).Msg("loaded program")
	}

	s.log.Info().Int("count", loaded).Str("dir", dir).Msg("loaded programs")
	return nil
}

// --- Helpers ---

func errorJSON(c *fiber.Ctx, code int, status, msg string) error {
	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    code,
			"message": msg,
			"status":  status,
		},
	})
}

func calcErrorJSON(c *fiber.Ctx, err error) error {
	var ce *types.CalcError
	if !errors.As(err, &ce) {
		return errorJSON(c, 500, "INTERNAL", err.Error())
	}
	body := fiber.Map{
		"code":    400,
		"message": err.Error(),
		"status":  "INVALID_ARGUMENT",
		"kind":    string(ce.Kind),
	}
	if ce.Pos >= 0 {
		body["position"] = ce.Pos
	}
	return c.Status(400).JSON(fiber.Map{"error": body})
}

func storeErrorJSON(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errorJSON(c, 404, "NOT_FOUND", err.Error())
	case errors.Is(err, store.ErrAlreadyExists):
		return errorJSON(c, 409, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, store.ErrNotActive):
		return errorJSON(c, 400, "FAILED_PRECONDITION", err.Error())
	default:
		return errorJSON(c, 500, "INTERNAL", err.Error())
	}
}

// jsonNumber maps values JSON cannot carry to their display strings.
func jsonNumber(v float64) interface{} {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return expr.FormatValue(v, expr.DefaultPrecision)
	}
	return v
}

func programToJSON(p *store.Program) fiber.Map {
	return fiber.Map{
		"name":           p.Name,
		"description":    p.Description,
		"revisionId":     p.RevisionID,
		"createTime":     p.CreateTime.Format(time.RFC3339),
		"updateTime":     p.UpdateTime.Format(time.RFC3339),
		"sourceContents": p.Source,
	}
}

func runToJSON(r *store.Run) fiber.Map {
	result := fiber.Map{
		"name":              r.Name,
		"state":             r.State,
		"startTime":         r.StartTime.Format(time.RFC3339),
		"programRevisionId": r.ProgramRevisionID,
	}

	if len(r.Results) > 0 {
		results := make([]interface{}, len(r.Results))
		for i, v := range r.Results {
			results[i] = jsonNumber(v)
		}
		result["results"] = results
	}
	if r.Output != "" {
		result["output"] = r.Output
	}
	if r.Error != nil {
		errMap := fiber.Map{"message": r.Error.Message}
		if r.Error.Kind != "" {
			errMap["kind"] = r.Error.Kind
		}
		if r.Error.Position > 0 {
			errMap["position"] = r.Error.Position
		}
		result["error"] = errMap
	}
	if !r.EndTime.IsZero() {
		result["endTime"] = r.EndTime.Format(time.RFC3339)
	}

	return result
}
