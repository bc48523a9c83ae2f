// Package tuyacloudtest provides a fake Tuya cloud OpenAPI server
// for testing.
package tuyacloudtest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"gopkg.in/httprequest.v1"

	"github.com/rogpeppe/plugmon/tuyacloud"
)

// TokenLifetime holds the lifetime of the access tokens issued by the server.
const TokenLifetime = 2 * time.Hour

// Server is a fake OpenAPI server. It checks request
// signatures and serves the status of any devices set with
// SetStatus.
type Server struct {
	// URL holds the base URL of the server.
	URL string

	accessID     string
	accessSecret string
	srv          *httptest.Server

	mu            sync.Mutex
	status        map[string][]StatusItem
	tokens        map[string]bool
	tokenCount    int
	tokenRequests int
	statusCalls   int
}

// StatusItem holds one status point of a device.
type StatusItem struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

var reqServer httprequest.Server

// NewServer starts a new server that accepts the given
// credentials. It should be closed after use.
func NewServer(accessID, accessSecret string) *Server {
	srv := &Server{
		accessID:     accessID,
		accessSecret: accessSecret,
		status:       make(map[string][]StatusItem),
		tokens:       make(map[string]bool),
	}
	router := httprouter.New()
	for _, h := range reqServer.Handlers(srv.handler) {
		router.Handle(h.Method, h.Path, h.Handle)
	}
	srv.srv = httptest.NewServer(router)
	srv.URL = srv.srv.URL
	return srv
}

// Close shuts down the server.
func (srv *Server) Close() {
	srv.srv.Close()
}

// SetStatus sets the status points reported for the given device.
func (srv *Server) SetStatus(deviceID string, status ...StatusItem) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.status[deviceID] = status
}

// RevokeTokens invalidates all the tokens issued so far.
func (srv *Server) RevokeTokens() {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.tokens = make(map[string]bool)
}

// TokenRequests returns the number of token requests made.
func (srv *Server) TokenRequests() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.tokenRequests
}

// StatusCalls returns the number of successful status requests made.
func (srv *Server) StatusCalls() int {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.statusCalls
}

func (srv *Server) handler(p httprequest.Params) (handler, context.Context, error) {
	return handler{srv}, p.Context, nil
}

type handler struct {
	srv *Server
}

type tokenReq struct {
	httprequest.Route `httprequest:"GET /v1.0/token"`
	GrantType         int `httprequest:"grant_type,form"`
}

func (h handler) Token(p httprequest.Params, req *tokenReq) (*tuyacloud.Response, error) {
	srv := h.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.tokenRequests++
	if resp := srv.checkSignature(p, ""); resp != nil {
		return resp, nil
	}
	if req.GrantType != 1 {
		return failure(1106, "permission deny"), nil
	}
	srv.tokenCount++
	token := fmt.Sprintf("token%d", srv.tokenCount)
	srv.tokens[token] = true
	return success(tuyacloud.TokenResult{
		AccessToken:  token,
		ExpireTime:   int64(TokenLifetime / time.Second),
		RefreshToken: "refresh-" + token,
		UID:          "uid-" + srv.accessID,
	}), nil
}

type statusReq struct {
	httprequest.Route `httprequest:"GET /v1.0/devices/:id/status"`
	DeviceID          string `httprequest:"id,path"`
}

func (h handler) Status(p httprequest.Params, req *statusReq) (*tuyacloud.Response, error) {
	srv := h.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()
	token := p.Request.Header.Get("access_token")
	if !srv.tokens[token] {
		return failure(tuyacloud.ErrorTokenInvalid, "token invalid"), nil
	}
	if resp := srv.checkSignature(p, token); resp != nil {
		return resp, nil
	}
	status, ok := srv.status[req.DeviceID]
	if !ok {
		return failure(2001, "device is offline"), nil
	}
	srv.statusCalls++
	return success(status), nil
}

// checkSignature checks the signature of the request in p,
// returning a failure response if it's not valid.
func (srv *Server) checkSignature(p httprequest.Params, token string) *tuyacloud.Response {
	h := p.Request.Header
	if h.Get("client_id") != srv.accessID {
		return failure(1005, "clientId is invalid")
	}
	if h.Get("sign_method") != "HMAC-SHA256" {
		return failure(1004, "sign invalid")
	}
	expect := tuyacloud.Sign(srv.accessSecret, srv.accessID, token, h.Get("t"), p.Request.Method, p.Request.URL.RequestURI(), nil)
	if h.Get("sign") != expect {
		return failure(1004, "sign invalid")
	}
	return nil
}

func success(result interface{}) *tuyacloud.Response {
	data, err := json.Marshal(result)
	if err != nil {
		panic(err)
	}
	return &tuyacloud.Response{
		Success: true,
		T:       now(),
		Result:  data,
	}
}

func failure(code int, msg string) *tuyacloud.Response {
	return &tuyacloud.Response{
		Code: code,
		Msg:  msg,
		T:    now(),
	}
}

func now() int64 {
	return time.Now().UnixNano() / int64(time.Millisecond)
}
