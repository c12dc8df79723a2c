package modbus

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendResponse is the body returned by a modbus_server bridge.
type SendResponse struct {
	ADUResponse []byte
	Error       string
}

// HTTPTransport forwards ADUs to a remote serial port exposed by
// cmd/modbus_server.
type HTTPTransport struct {
	URL      string
	Password string
	Client   *http.Client
	Observer ExchangeObserver
}

func (c *HTTPTransport) Connect() error {
	return nil
}

func (c *HTTPTransport) Close() error {
	return nil
}

func (c *HTTPTransport) Send(aduRequest []byte) (aduResponse []byte, err error) {
	start := time.Now()
	if c.Observer != nil && len(aduRequest) > 1 {
		defer func() {
			c.Observer.ObserveExchange(aduRequest[1], time.Since(start), err)
		}()
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequest(http.MethodPost, c.URL, bytes.NewReader(aduRequest))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.Password != "" {
		req.SetBasicAuth("antenna", c.Password)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status code: %s\n%s", resp.Status, string(body))
	}
	var sendResponse SendResponse
	if err := json.Unmarshal(body, &sendResponse); err != nil {
		return nil, err
	}
	if sendResponse.Error != "" {
		err = errors.New(sendResponse.Error)
	}
	return sendResponse.ADUResponse, err
}
