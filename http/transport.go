// Package http is the director's inbound API: task submission,
// status, cancellation and output, plus read-only listings of the
// fleet model. Auth sits in front of this handler; it trusts the
// user identity relayed in the request.
package http

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"

	"github.com/fleetworks/director"
	"github.com/fleetworks/director/registry"
	"github.com/fleetworks/director/resurrect"
	"github.com/fleetworks/director/snapshot"
	"github.com/fleetworks/director/task"
)

func NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.NewRoute().Name("ListTasks").Methods("GET").Path("/v1/tasks")
	r.NewRoute().Name("GetTask").Methods("GET").Path("/v1/tasks/{id}")
	r.NewRoute().Name("CancelTask").Methods("POST").Path("/v1/tasks/{id}/cancel")
	r.NewRoute().Name("TaskOutput").Methods("GET").Path("/v1/tasks/{id}/output")
	r.NewRoute().Name("TailTaskOutput").Methods("GET").Path("/v1/tasks/{id}/output/tail")

	r.NewRoute().Name("ListDeployments").Methods("GET").Path("/v1/deployments")
	r.NewRoute().Name("GetDeployment").Methods("GET").Path("/v1/deployments/{deployment}")
	r.NewRoute().Name("SubmitDeploy").Methods("POST").Path("/v1/deployments/{deployment}")
	r.NewRoute().Name("DeleteDeployment").Methods("DELETE").Path("/v1/deployments/{deployment}")
	r.NewRoute().Name("ListInstances").Methods("GET").Path("/v1/deployments/{deployment}/instances")

	r.NewRoute().Name("ListProblems").Methods("GET").Path("/v1/deployments/{deployment}/problems")
	r.NewRoute().Name("PutResolutions").Methods("PUT").Path("/v1/deployments/{deployment}/problems")
	r.NewRoute().Name("Scan").Methods("POST").Path("/v1/deployments/{deployment}/scans")
	r.NewRoute().Name("ScanAndFix").Methods("POST").Path("/v1/deployments/{deployment}/scan_and_fix")

	r.NewRoute().Name("SnapshotDeployment").Methods("POST").Path("/v1/deployments/{deployment}/snapshots")
	r.NewRoute().Name("SnapshotInstance").Methods("POST").Path("/v1/deployments/{deployment}/instances/{instance}/snapshots")
	r.NewRoute().Name("DeleteSnapshots").Methods("DELETE").Path("/v1/deployments/{deployment}/snapshots")
	r.NewRoute().Name("DeleteSnapshot").Methods("DELETE").Path("/v1/deployments/{deployment}/snapshots/{cid}")

	r.NewRoute().Name("ListReleases").Methods("GET").Path("/v1/releases")
	r.NewRoute().Name("UploadRelease").Methods("POST").Path("/v1/releases")
	r.NewRoute().Name("ListStemcells").Methods("GET").Path("/v1/stemcells")
	r.NewRoute().Name("UploadStemcell").Methods("POST").Path("/v1/stemcells")

	r.NewRoute().Name("CreateBackup").Methods("POST").Path("/v1/backups")

	// We assume every request that doesn't match a route is a client
	// calling an old or hitherto unsupported API.
	r.NewRoute().Name("NotFound").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, http.StatusNotFound, MakeAPINotFound(r.URL.Path))
	})
	return r
}

type Server struct {
	Tasks    *task.Manager
	Store    registry.Store
	Resolver *resurrect.Resolver
	Logger   log.Logger
}

func NewHandler(s *Server, r *mux.Router, logger log.Logger) http.Handler {
	for name, handlerFunc := range map[string]http.HandlerFunc{
		"ListTasks":          s.ListTasks,
		"GetTask":            s.GetTask,
		"CancelTask":         s.CancelTask,
		"TaskOutput":         s.TaskOutput,
		"TailTaskOutput":     s.TailTaskOutput,
		"ListDeployments":    s.ListDeployments,
		"GetDeployment":      s.GetDeployment,
		"SubmitDeploy":       s.SubmitDeploy,
		"DeleteDeployment":   s.DeleteDeployment,
		"ListInstances":      s.ListInstances,
		"ListProblems":       s.ListProblems,
		"PutResolutions":     s.PutResolutions,
		"Scan":               s.Scan,
		"ScanAndFix":         s.ScanAndFix,
		"SnapshotDeployment": s.SnapshotDeployment,
		"SnapshotInstance":   s.SnapshotInstance,
		"DeleteSnapshots":    s.DeleteSnapshots,
		"DeleteSnapshot":     s.DeleteSnapshot,
		"ListReleases":       s.ListReleases,
		"UploadRelease":      s.UploadRelease,
		"ListStemcells":      s.ListStemcells,
		"UploadStemcell":     s.UploadStemcell,
		"CreateBackup":       s.CreateBackup,
	} {
		var handler http.Handler = handlerFunc
		handler = logging(handler, log.With(logger, "method", name))
		handler = instrument(handler, name)
		r.Get(name).Handler(handler)
	}
	return r
}

func logging(next http.Handler, logger log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		begin := time.Now()
		cw := &codeWriter{w, http.StatusOK}
		next.ServeHTTP(cw, r)
		logger.Log("url", r.URL.String(), "status", cw.code, "took", time.Since(begin).String())
	})
}

type codeWriter struct {
	http.ResponseWriter
	code int
}

func (w *codeWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// pass hijacking through, for the websocket tail
func (w *codeWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// user relayed by the auth layer in front of us.
func requestUser(r *http.Request) string {
	if u, _, ok := r.BasicAuth(); ok {
		return u
	}
	if u := r.Header.Get("X-Director-User"); u != "" {
		return u
	}
	return "anonymous"
}

// submitted responds with the task id and a locator for polling it.
func submitted(w http.ResponseWriter, r *http.Request, t *task.Task) {
	w.Header().Set("Location", fmt.Sprintf("/v1/tasks/%d", t.ID))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(t.Info())
}

// --- tasks

func (s *Server) ListTasks(w http.ResponseWriter, r *http.Request) {
	JSONResponse(w, r, s.Tasks.Tasks())
}

func taskID(r *http.Request) (task.ID, error) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		return 0, &director.Error{
			Type: director.User,
			Code: director.CodeTaskNotFound,
			Err:  errors.Wrapf(err, "parsing task id %q", mux.Vars(r)["id"]),
		}
	}
	return task.ID(id), nil
}

func (s *Server) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	info, err := s.Tasks.Status(id)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, info)
}

func (s *Server) CancelTask(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	if err := s.Tasks.Cancel(id); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TaskOutput serves the task log, honouring a single bytes Range so
// clients can poll for just the part they haven't seen.
func (s *Server) TaskOutput(w http.ResponseWriter, r *http.Request) {
	id, err := taskID(r)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	offset, length, ranged, err := parseRange(r.Header.Get("Range"))
	if err != nil {
		WriteError(w, r, http.StatusRequestedRangeNotSatisfiable, err)
		return
	}

	slice, total, err := s.Tasks.Output(id, offset, length)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Accept-Ranges", "bytes")
	if ranged {
		end := offset + int64(len(slice)) - 1
		if end < offset {
			end = offset
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, end, total))
		w.WriteHeader(http.StatusPartialContent)
	}
	w.Write(slice)
}

// parseRange handles the single-range form "bytes=m-n", with the "n"
// optional.
func parseRange(header string) (offset, length int64, ranged bool, err error) {
	if header == "" {
		return 0, -1, false, nil
	}
	var start, end int64
	if n, _ := fmt.Sscanf(header, "bytes=%d-%d", &start, &end); n == 2 {
		if end < start {
			return 0, 0, false, errors.Errorf("invalid range %q", header)
		}
		return start, end - start + 1, true, nil
	}
	if n, _ := fmt.Sscanf(header, "bytes=%d-", &start); n == 1 {
		return start, -1, true, nil
	}
	return 0, 0, false, errors.Errorf("unsupported range %q", header)
}

// --- deployments

func (s *Server) ListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := s.Store.Deployments()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, deploymentViews(deployments))
}

func (s *Server) GetDeployment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	dep, err := s.Store.Deployment(name)
	if errors.Cause(err) == registry.ErrNotFound {
		ErrorResponse(w, r, director.UnknownDeployment(name))
		return
	}
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, deploymentView(dep))
}

func (s *Server) SubmitDeploy(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	t, err := s.Tasks.Submit(task.TypeUpdateDeployment,
		fmt.Sprintf("create deployment %s", name), requestUser(r), name, nil, body)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

func (s *Server) DeleteDeployment(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	if _, err := s.Store.Deployment(name); errors.Cause(err) == registry.ErrNotFound {
		ErrorResponse(w, r, director.UnknownDeployment(name))
		return
	} else if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	t, err := s.Tasks.Submit(task.TypeDeleteDeployment,
		fmt.Sprintf("delete deployment %s", name), requestUser(r), name, nil, nil)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

func (s *Server) ListInstances(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	if _, err := s.Store.Deployment(name); errors.Cause(err) == registry.ErrNotFound {
		ErrorResponse(w, r, director.UnknownDeployment(name))
		return
	} else if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	instances, err := s.Store.InstancesFor(name)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, instanceViews(instances))
}

// --- problems

func (s *Server) ListProblems(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	state := registry.ProblemState(r.URL.Query().Get("state"))
	if state == "" {
		state = registry.ProblemOpen
	}
	problems, err := s.Store.ProblemsFor(name, state)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, problemViews(problems))
}

// PutResolutions applies operator-chosen resolutions: a map of
// problem id to resolution name.
func (s *Server) PutResolutions(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	solutions, err := resurrect.ParseSolutions(body)
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.Resolver.Apply(r.Context(), name, requestUser(r), solutions); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) Scan(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, task.TypeScan, "scan deployment")
}

func (s *Server) ScanAndFix(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, task.TypeScanAndFix, "scan and fix deployment")
}

// --- snapshots

func (s *Server) SnapshotDeployment(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, task.TypeSnapshotDeployment, "snapshot deployment")
}

func (s *Server) SnapshotInstance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	instance := mux.Vars(r)["instance"]
	if _, err := director.ParseInstanceID(instance); err != nil {
		ErrorResponse(w, r, &director.Error{
			Type: director.User,
			Code: director.CodeInvalidInstance,
			Err:  err,
		})
		return
	}
	t, err := s.Tasks.Submit(task.TypeSnapshotDeployment,
		fmt.Sprintf("snapshot instance %s of %s", instance, name), requestUser(r), name,
		map[string]string{"instance": instance}, nil)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

func (s *Server) DeleteSnapshots(w http.ResponseWriter, r *http.Request) {
	s.submitSimple(w, r, task.TypeDeleteSnapshot, "delete all snapshots of deployment")
}

func (s *Server) DeleteSnapshot(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["deployment"]
	cid := mux.Vars(r)["cid"]
	// a cross-deployment delete is a validation error, rejected before
	// any task is queued
	if err := snapshot.VerifyOwnership(s.Store, name, cid); err != nil {
		ErrorResponse(w, r, err)
		return
	}
	t, err := s.Tasks.Submit(task.TypeDeleteSnapshot,
		fmt.Sprintf("delete snapshot %s of %s", cid, name), requestUser(r), name,
		map[string]string{"snapshot": cid}, nil)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

// --- releases and stemcells

func (s *Server) ListReleases(w http.ResponseWriter, r *http.Request) {
	releases, err := s.Store.Releases()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	views := make([]releaseView, 0, len(releases))
	for _, rel := range releases {
		versions, err := s.Store.ReleaseVersions(rel.Name)
		if err != nil {
			ErrorResponse(w, r, err)
			return
		}
		v := releaseView{Name: rel.Name}
		for _, rv := range versions {
			v.Versions = append(v.Versions, rv.Version)
		}
		views = append(views, v)
	}
	JSONResponse(w, r, views)
}

func (s *Server) UploadRelease(w http.ResponseWriter, r *http.Request) {
	s.upload(w, r, task.TypeCreateRelease, "create release")
}

func (s *Server) ListStemcells(w http.ResponseWriter, r *http.Request) {
	stemcells, err := s.Store.Stemcells()
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	JSONResponse(w, r, stemcellViews(stemcells))
}

func (s *Server) UploadStemcell(w http.ResponseWriter, r *http.Request) {
	s.upload(w, r, task.TypeUpdateStemcell, "update stemcell")
}

// CreateBackup dumps the whole registry to the blobstore, as a task
// like everything else.
func (s *Server) CreateBackup(w http.ResponseWriter, r *http.Request) {
	t, err := s.Tasks.Submit(task.TypeBackup, "back up director database", requestUser(r), "", nil, nil)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request, tp task.Type, description string) {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	t, err := s.Tasks.Submit(tp, description, requestUser(r), "", nil, body)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}

func (s *Server) submitSimple(w http.ResponseWriter, r *http.Request, tp task.Type, verb string) {
	name := mux.Vars(r)["deployment"]
	if _, err := s.Store.Deployment(name); errors.Cause(err) == registry.ErrNotFound {
		ErrorResponse(w, r, director.UnknownDeployment(name))
		return
	} else if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	t, err := s.Tasks.Submit(tp, fmt.Sprintf("%s %s", verb, name), requestUser(r), name, nil, nil)
	if err != nil {
		ErrorResponse(w, r, err)
		return
	}
	submitted(w, r, t)
}
