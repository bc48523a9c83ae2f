// Package tuyacloud implements a plug.Source that reads
// plug status through the Tuya cloud OpenAPI.
package tuyacloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/juju/loggo"
	"go4.org/syncutil/singleflight"
	"gopkg.in/errgo.v1"
	"gopkg.in/httprequest.v1"

	"github.com/rogpeppe/plugmon/plug"
)

var logger = loggo.GetLogger("plugmon.tuyacloud")

// Codes holds the status codes that the cloud uses
// to report each measured quantity.
type Codes struct {
	Power   string
	Voltage string
	Current string
}

// DefaultCodes holds the status codes used by most Tuya plugs.
var DefaultCodes = Codes{
	Power:   "cur_power",
	Voltage: "cur_voltage",
	Current: "cur_current",
}

// Params holds the parameters for a call to Open.
type Params struct {
	// Endpoint holds the OpenAPI endpoint for the
	// project's data center, for example https://openapi.tuyaeu.com.
	Endpoint string
	// AccessID and AccessSecret hold the cloud project's credentials.
	AccessID     string
	AccessSecret string
	// DeviceID holds the id of the plug.
	DeviceID string
	// Codes holds the status codes to read. Any empty
	// code is taken from DefaultCodes.
	Codes Codes
	// Doer is used to make HTTP requests. If it's nil,
	// http.DefaultClient will be used.
	Doer httprequest.Doer
	// Now is used to query the current time. If it's nil, time.Now will be used.
	Now func() time.Time
}

// tokenMargin holds how long before its stated expiry
// an access token is refreshed.
const tokenMargin = time.Minute

// ErrorTokenInvalid is the API error code returned when
// an access token is not valid.
const ErrorTokenInvalid = 1010

// Client is a plug.Source that talks to the Tuya cloud.
type Client struct {
	p      Params
	client httprequest.Client
	group  singleflight.Group

	// mu guards the fields below it.
	mu          sync.Mutex
	accessToken string
	expiry      time.Time
}

var _ plug.Source = (*Client)(nil)

// Open returns a new Client that reads the status of the given plug.
// It acquires an access token before returning, so an error
// means that the cloud could not be reached with the given
// credentials.
func Open(ctx context.Context, p Params) (*Client, error) {
	if p.Endpoint == "" {
		return nil, errgo.Newf("no API endpoint set")
	}
	if p.AccessID == "" || p.AccessSecret == "" {
		return nil, errgo.Newf("no access credentials set")
	}
	if p.DeviceID == "" {
		return nil, errgo.Newf("no device id set")
	}
	if p.Codes.Power == "" {
		p.Codes.Power = DefaultCodes.Power
	}
	if p.Codes.Voltage == "" {
		p.Codes.Voltage = DefaultCodes.Voltage
	}
	if p.Codes.Current == "" {
		p.Codes.Current = DefaultCodes.Current
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	p.Endpoint = strings.TrimSuffix(p.Endpoint, "/")
	c := &Client{
		p: p,
		client: httprequest.Client{
			Doer: p.Doer,
		},
	}
	if _, err := c.token(ctx); err != nil {
		return nil, errgo.NoteMask(err, "cannot connect to Tuya cloud", isAPIError)
	}
	return c, nil
}

// Poll implements plug.Source.Poll by fetching the
// current device status.
func (c *Client) Poll(ctx context.Context) (plug.Measurement, error) {
	var items []statusItem
	if err := c.get(ctx, "/v1.0/devices/"+url.PathEscape(c.p.DeviceID)+"/status", &items); err != nil {
		return plug.Measurement{}, errgo.NoteMask(err, "cannot get device status", isAPIError)
	}
	status := make(map[string]interface{})
	for _, item := range items {
		status[item.Code] = item.Value
	}
	return plug.Values(status, c.p.Codes.Power, c.p.Codes.Voltage, c.p.Codes.Current), nil
}

// Close implements plug.Source.Close.
func (c *Client) Close() error {
	return nil
}

// APIError is returned when the cloud reports a failure.
type APIError struct {
	Code int
	Msg  string
}

func (e *APIError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("error from Tuya API (code %d)", e.Code)
	}
	return fmt.Sprintf("error from Tuya API: %s (code %d)", e.Msg, e.Code)
}

func isAPIError(err error) bool {
	_, ok := err.(*APIError)
	return ok
}

// Response holds the envelope of all OpenAPI responses.
type Response struct {
	Success bool            `json:"success"`
	Code    int             `json:"code,omitempty"`
	Msg     string          `json:"msg,omitempty"`
	T       int64           `json:"t"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// TokenResult holds the result of a token request.
type TokenResult struct {
	AccessToken  string `json:"access_token"`
	ExpireTime   int64  `json:"expire_time"`
	RefreshToken string `json:"refresh_token"`
	UID          string `json:"uid"`
}

type statusItem struct {
	Code  string      `json:"code"`
	Value interface{} `json:"value"`
}

// get makes an authenticated GET request to the given path and
// unmarshals the result into result.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	token, err := c.token(ctx)
	if err != nil {
		return errgo.Mask(err, isAPIError)
	}
	err = c.do(ctx, path, token, result)
	if apiErr, ok := errgo.Cause(err).(*APIError); ok && apiErr.Code == ErrorTokenInvalid {
		logger.Infof("access token rejected; will acquire a new one")
		c.invalidateToken(token)
	}
	return errgo.Mask(err, isAPIError)
}

// token returns a currently valid access token, acquiring
// a new one if needed. Concurrent callers share a single
// token request.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	token, expiry := c.accessToken, c.expiry
	c.mu.Unlock()
	if token != "" && c.p.Now().Before(expiry) {
		return token, nil
	}
	v, err := c.group.Do("token", func() (interface{}, error) {
		var tr TokenResult
		if err := c.do(ctx, "/v1.0/token?grant_type=1", "", &tr); err != nil {
			return "", errgo.Mask(err, isAPIError)
		}
		if tr.AccessToken == "" {
			return "", errgo.Newf("no access token in token response")
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.accessToken = tr.AccessToken
		c.expiry = c.p.Now().Add(time.Duration(tr.ExpireTime)*time.Second - tokenMargin)
		logger.Debugf("acquired access token expiring at %v", c.expiry)
		return tr.AccessToken, nil
	})
	if err != nil {
		return "", errgo.Mask(err, isAPIError)
	}
	return v.(string), nil
}

func (c *Client) invalidateToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == token {
		c.accessToken = ""
	}
}

// do makes a signed GET request to the given path, which
// should include any query parameters in sorted order.
// If accessToken is empty, the request is made as a token request.
func (c *Client) do(ctx context.Context, path, accessToken string, result interface{}) error {
	req, err := http.NewRequest("GET", c.p.Endpoint+path, nil)
	if err != nil {
		return errgo.Mask(err)
	}
	t := strconv.FormatInt(c.p.Now().UnixNano()/int64(time.Millisecond), 10)
	req.Header.Set("client_id", c.p.AccessID)
	req.Header.Set("t", t)
	req.Header.Set("sign_method", "HMAC-SHA256")
	if accessToken != "" {
		req.Header.Set("access_token", accessToken)
	}
	req.Header.Set("sign", Sign(c.p.AccessSecret, c.p.AccessID, accessToken, t, "GET", path, nil))
	var resp Response
	if err := c.client.Do(ctx, req, &resp); err != nil {
		return errgo.Mask(err)
	}
	if !resp.Success {
		return &APIError{
			Code: resp.Code,
			Msg:  resp.Msg,
		}
	}
	if len(resp.Result) == 0 || result == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, result); err != nil {
		return errgo.Notef(err, "cannot unmarshal result")
	}
	return nil
}
