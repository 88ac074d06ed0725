//go:build e2e
// +build e2e

package e2e_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jsphweid/abcxml/cmd"
	"github.com/jsphweid/abcxml/model"
	"github.com/stretchr/testify/assert"
)

func createConvertReqBody(text string, strict bool) io.Reader {
	data, err := json.Marshal(model.ConvertRequestBody{Text: text, Strict: strict})
	if err != nil {
		panic(err.Error())
	}
	return bytes.NewReader(data)
}

func post(handler http.HandlerFunc, path string, body io.Reader) (*http.Response, []byte) {
	req := httptest.NewRequest(http.MethodPost, path, body)
	w := httptest.NewRecorder()
	handler(w, req)
	resp := w.Result()
	respBody, _ := io.ReadAll(resp.Body)
	return resp, respBody
}

func TestScaleInGMajorE2E(t *testing.T) {
	resp, body := post(cmd.HandleConvertABC, "/convert/abc",
		createConvertReqBody("X:1\nM:4/4\nL:1/8\nK:G\nG2 A2 B2 c2|\n", false))

	assert := assert.New(t)
	assert.Equal(200, resp.StatusCode)

	var res model.ConvertResponse
	if err := json.Unmarshal(body, &res); err != nil {
		panic(err.Error())
	}
	assert.Empty(res.Diagnostics)
	assert.Contains(res.Output, "<divisions>1</divisions>")
	assert.Contains(res.Output, "<step>G</step>")
	assert.NotContains(res.Output, "<accidental>")
}

func TestShortMeasureE2E(t *testing.T) {
	text := "X:1\nM:4/4\nL:1/4\nK:C\nC D E|F G A B|\n"
	resp, body := post(cmd.HandleConvertABC, "/convert/abc", createConvertReqBody(text, false))

	assert := assert.New(t)
	assert.Equal(200, resp.StatusCode)
	var res model.ConvertResponse
	if err := json.Unmarshal(body, &res); err != nil {
		panic(err.Error())
	}
	assert.Len(res.Diagnostics, 1)
	assert.Equal(model.KindMeasureMismatch, res.Diagnostics[0].Kind)

	resp, body = post(cmd.HandleConvertABC, "/convert/abc", createConvertReqBody(text, true))
	assert.Equal(422, resp.StatusCode)
	var errRes model.ErrorResponse
	if err := json.Unmarshal(body, &errRes); err != nil {
		panic(err.Error())
	}
	assert.Equal("strict", errRes.Kind)
}

func TestOrphanTieE2E(t *testing.T) {
	doc := `<score-partwise version="4.0">
<part-list><score-part id="P1"><part-name>Tin Whistle</part-name></score-part></part-list>
<part id="P1"><measure number="1">
<attributes><divisions>1</divisions><key><fifths>0</fifths></key><time><beats>2</beats><beat-type>4</beat-type></time></attributes>
<note><pitch><step>C</step><octave>5</octave></pitch><duration>1</duration><tie type="start"/></note>
<note><pitch><step>E</step><octave>5</octave></pitch><duration>1</duration></note>
</measure></part></score-partwise>`
	resp, body := post(cmd.HandleConvertMusicXML, "/convert/musicxml", createConvertReqBody(doc, false))

	assert := assert.New(t)
	assert.Equal(200, resp.StatusCode)
	var res model.ConvertResponse
	if err := json.Unmarshal(body, &res); err != nil {
		panic(err.Error())
	}
	assert.Len(res.Diagnostics, 1)
	assert.Equal(model.KindOrphanTie, res.Diagnostics[0].Kind)
	assert.NotContains(res.Output, "-")
}

func TestMalformedInputE2E(t *testing.T) {
	resp, body := post(cmd.HandleConvertMusicXML, "/convert/musicxml", createConvertReqBody("<score-partwise><part", false))

	assert := assert.New(t)
	assert.Equal(400, resp.StatusCode)
	var errRes model.ErrorResponse
	if err := json.Unmarshal(body, &errRes); err != nil {
		panic(err.Error())
	}
	assert.Equal("markup", errRes.Kind)
}

func TestRouterE2E(t *testing.T) {
	srv := httptest.NewServer(cmd.NewRouter())
	defer srv.Close()

	assert := assert.New(t)
	resp, err := http.Get(srv.URL + "/healthz")
	assert.NoError(err)
	assert.Equal(200, resp.StatusCode)
	assert.NotEmpty(resp.Header.Get("X-Request-Id"))
	resp.Body.Close()

	resp, err = http.Post(srv.URL+"/convert/abc?to=midi", "application/json",
		createConvertReqBody("X:1\nM:2/4\nL:1/8\nK:C\nCDEF|G4|\n", false))
	assert.NoError(err)
	defer resp.Body.Close()
	assert.Equal(200, resp.StatusCode)
	assert.Equal("audio/midi", resp.Header.Get("Content-Type"))
	data, _ := io.ReadAll(resp.Body)
	assert.True(bytes.HasPrefix(data, []byte("MThd")))
}
