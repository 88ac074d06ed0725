package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/jsphweid/abcxml/constants"
	"github.com/jsphweid/abcxml/convert"
	"github.com/jsphweid/abcxml/model"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const maxBodyBytes = 8 << 20

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8080)")
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves conversions over HTTP",
	Long: `Serves conversions over HTTP:
  POST /convert/abc        ABC text in, MusicXML out (?to=midi for a MIDI file)
  POST /convert/musicxml   MusicXML in, ABC out
  GET  /healthz`,
	RunE: func(cmd *cobra.Command, args []string) error {
		srv := &http.Server{
			Addr:              cfg.Addr,
			Handler:           NewRouter(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		return srv.ListenAndServe()
	},
}

func NewRouter() http.Handler {
	router := mux.NewRouter().StrictSlash(true)
	router.Use(withRequestID)
	router.HandleFunc("/convert/abc", HandleConvertABC).Methods("POST")
	router.HandleFunc("/convert/musicxml", HandleConvertMusicXML).Methods("POST")
	router.HandleFunc("/healthz", HandleHealth).Methods("GET")
	return cors.Default().Handler(router)
}

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		l := logger.With().Str("request", id).Logger()
		next.ServeHTTP(w, r.WithContext(l.WithContext(r.Context())))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func readRequest(w http.ResponseWriter, r *http.Request) (model.ConvertRequestBody, bool) {
	var input model.ConvertRequestBody
	reqBody, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, model.ErrorResponse{Error: err.Error()})
		return input, false
	}
	if err := json.Unmarshal(reqBody, &input); err != nil {
		writeJSON(w, http.StatusBadRequest, model.ErrorResponse{Error: "could not unmarshal request body: " + err.Error()})
		return input, false
	}
	return input, true
}

func writeConversionError(w http.ResponseWriter, l *zerolog.Logger, err error, diags []model.Diagnostic) {
	status := http.StatusBadRequest
	kind := ""
	var convErr *convert.Error
	if errors.As(err, &convErr) {
		kind = convErr.Stage()
		if kind == "internal" {
			status = http.StatusInternalServerError
		}
		if kind == "strict" {
			status = http.StatusUnprocessableEntity
		}
	}
	l.Warn().Err(err).Str("stage", kind).Int("diagnostics", len(diags)).Msg("conversion failed")
	writeJSON(w, status, model.ErrorResponse{Error: err.Error(), Kind: kind})
}

func handleConvert(w http.ResponseWriter, r *http.Request, from, to convert.Format) {
	l := zerolog.Ctx(r.Context())
	input, ok := readRequest(w, r)
	if !ok {
		return
	}
	data, res, err := convert.Convert(input.Text, from, to,
		convert.WithStrict(input.Strict || cfg.Strict),
		convert.WithLogger(*l))
	if err != nil {
		writeConversionError(w, l, err, res.Diagnostics)
		return
	}
	l.Info().Str("from", string(from)).Str("to", string(to)).Int("diagnostics", len(res.Diagnostics)).Msg("converted")

	if to == convert.MIDI {
		w.Header().Set("Content-Type", "audio/midi")
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	diags := res.Diagnostics
	if diags == nil {
		diags = []model.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, model.ConvertResponse{Output: string(data), Diagnostics: diags})
}

// HandleConvertABC converts an ABC tune to MusicXML, or to MIDI with ?to=midi.
func HandleConvertABC(w http.ResponseWriter, r *http.Request) {
	to := convert.MusicXML
	if r.URL.Query().Get("to") == string(convert.MIDI) {
		to = convert.MIDI
	}
	handleConvert(w, r, convert.ABC, to)
}

func HandleConvertMusicXML(w http.ResponseWriter, r *http.Request) {
	handleConvert(w, r, convert.MusicXML, convert.ABC)
}

func HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{Status: "ok", Version: constants.Version})
}
