package cmd

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"path/filepath"
	"sync"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv" // autoregisters driver

	"scoreplay/importer"
	"scoreplay/library"
	"scoreplay/model"
	"scoreplay/player"
	"scoreplay/sink"
)

var serveAddr string

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves an HTTP control surface for playback",
	Long:  `Serves an HTTP control surface for playback`,
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

// session is the one playback session the server controls.
type session struct {
	mu       sync.Mutex
	sch      *player.Scheduler
	score    *model.Score
	title    string
	warnings []string
}

var current *session

// InitSession wires a fresh scheduler to the given sink. Exported so tests
// can install a collector instead of a real MIDI port.
func InitSession(s player.Sink) {
	if current != nil {
		current.sch.Close()
	}
	current = &session{sch: player.NewScheduler(s)}
}

func (s *session) setScore(score *model.Score, title string, warnings []string) {
	s.mu.Lock()
	s.score = score
	s.title = title
	s.warnings = warnings
	s.mu.Unlock()
	s.sch.Load(score)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: err.Error()})
}

func writeStatus(w http.ResponseWriter) {
	current.mu.Lock()
	title := current.title
	warnings := current.warnings
	current.mu.Unlock()

	sch := current.sch
	json.NewEncoder(w).Encode(model.StatusResponse{
		State:    sch.State().String(),
		Position: sch.Position(),
		Duration: sch.TotalDuration(),
		Tempo:    sch.Tempo(),
		Loop:     sch.Loop(),
		Title:    title,
		Warnings: warnings,
	})
}

func HandleLoad(w http.ResponseWriter, r *http.Request) {
	var req model.LoadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	score, warnings, err := importer.Load(req.Path)
	if err != nil {
		writeErr(w, http.StatusUnprocessableEntity, err)
		return
	}
	title := score.Title
	if title == "" {
		title = filepath.Base(req.Path)
	}
	current.setScore(score, title, warnings)
	writeStatus(w)
}

func HandlePlay(w http.ResponseWriter, r *http.Request) {
	current.sch.Play()
	writeStatus(w)
}

func HandlePause(w http.ResponseWriter, r *http.Request) {
	current.sch.Pause()
	writeStatus(w)
}

func HandleStop(w http.ResponseWriter, r *http.Request) {
	current.sch.Stop()
	writeStatus(w)
}

func HandleSeek(w http.ResponseWriter, r *http.Request) {
	var req model.SeekRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	current.sch.Seek(req.Seconds)
	writeStatus(w)
}

func HandleTempo(w http.ResponseWriter, r *http.Request) {
	var req model.TempoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	current.sch.SetTempo(req.BPM)
	writeStatus(w)
}

func HandleLoop(w http.ResponseWriter, r *http.Request) {
	var req model.LoopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	current.sch.SetLoop(req.Loop)
	writeStatus(w)
}

func HandleVolume(w http.ResponseWriter, r *http.Request) {
	var req model.VolumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	current.sch.SetVolume(req.Volume)
	writeStatus(w)
}

func HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeStatus(w)
}

func HandleLibraryList(w http.ResponseWriter, r *http.Request) {
	overviews, err := library.List()
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if overviews == nil {
		overviews = []library.Overview{}
	}
	json.NewEncoder(w).Encode(overviews)
}

func HandleLibrarySave(w http.ResponseWriter, r *http.Request) {
	current.mu.Lock()
	score := current.score
	current.mu.Unlock()
	if score == nil {
		writeErr(w, http.StatusConflict, errors.New("no score loaded"))
		return
	}
	id, err := library.Save(score)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	json.NewEncoder(w).Encode(model.SaveResponse{ID: id})
}

func HandleLibraryGet(w http.ResponseWriter, r *http.Request) {
	score, err := library.Load(mux.Vars(r)["id"])
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	json.NewEncoder(w).Encode(score)
}

func HandleLibraryLoad(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	score, err := library.Load(id)
	if err != nil {
		writeErr(w, http.StatusNotFound, err)
		return
	}
	title := score.Title
	if title == "" {
		title = id
	}
	current.setScore(score, title, nil)
	writeStatus(w)
}

func NewRouter() *mux.Router {
	router := mux.NewRouter().StrictSlash(true)
	router.HandleFunc("/load", HandleLoad).Methods("POST")
	router.HandleFunc("/play", HandlePlay).Methods("POST")
	router.HandleFunc("/pause", HandlePause).Methods("POST")
	router.HandleFunc("/stop", HandleStop).Methods("POST")
	router.HandleFunc("/seek", HandleSeek).Methods("POST")
	router.HandleFunc("/tempo", HandleTempo).Methods("POST")
	router.HandleFunc("/loop", HandleLoop).Methods("POST")
	router.HandleFunc("/volume", HandleVolume).Methods("POST")
	router.HandleFunc("/status", HandleStatus).Methods("GET")
	router.HandleFunc("/library", HandleLibraryList).Methods("GET")
	router.HandleFunc("/library/save", HandleLibrarySave).Methods("POST")
	router.HandleFunc("/library/{id}", HandleLibraryGet).Methods("GET")
	router.HandleFunc("/library/{id}/load", HandleLibraryLoad).Methods("POST")
	return router
}

func serve() {
	defer midi.CloseDriver()

	out, err := sink.NewMIDIOut(0)
	cobra.CheckErr(err)
	InitSession(out)

	handler := cors.Default().Handler(NewRouter())
	log.Fatal(http.ListenAndServe(serveAddr, handler))
}
