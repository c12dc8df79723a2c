// Command antenna_logger records the antennad status stream in InfluxDB.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gorilla/websocket"
	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
)

var (
	org    = flag.String("org", "w1xm", "InfluxDB organization")
	bucket = flag.String("bucket", "antenna.raw", "InfluxDB bucket")
	retry  = flag.Duration("retry", 1*time.Second, "delay before reconnecting to antennad")
)

func main() {
	flag.Parse()
	// Create client
	server := os.Getenv("INFLUX_SERVER")
	if server == "" {
		server = "http://localhost:9999"
	}
	client := influxdb2.NewClient(server, os.Getenv("INFLUX_TOKEN"))
	defer client.Close()
	// Get non-blocking write client
	writeApi := client.WriteApi(*org, *bucket)
	defer writeApi.Close()
	// Get errors channel
	errorsCh := writeApi.Errors()
	// Create go proc for reading and logging errors
	go func() {
		for err := range errorsCh {
			log.Printf("write error: %v", err)
		}
	}()
	for {
		if err := logData(writeApi); err != nil {
			log.Print(err)
		}
		time.Sleep(*retry)
	}
}

// flattenStatus turns nested JSON into dotted field names.
func flattenStatus(fields map[string]interface{}, status interface{}, prefix string) {
	switch status := status.(type) {
	case map[string]interface{}:
		for k, v := range status {
			flattenStatus(fields, v, prefix+"."+k)
		}
	case []interface{}:
		for k, v := range status {
			flattenStatus(fields, v, fmt.Sprintf("%s.%d", prefix, k))
		}
	case nil:
		// Influx has no null field; an absent target is just absent.
	default:
		fields[prefix[1:]] = status
	}
}

// writeStatus queues one status message. The controller state becomes a
// tag so it can be grouped on.
func writeStatus(writeApi api.WriteApi, status interface{}, t time.Time) {
	fields := make(map[string]interface{})
	flattenStatus(fields, status, "")
	tags := make(map[string]string)
	if state, ok := fields["State"].(string); ok {
		tags["state"] = state
		delete(fields, "State")
	}
	delete(fields, "Time")
	// write asynchronously
	writeApi.WritePoint(influxdb2.NewPoint("antenna.status", tags, fields, t))
}

func logData(writeApi api.WriteApi) error {
	url := os.Getenv("ANTENNAD_ADDRESS")
	if url == "" {
		url = "ws://localhost:8080/api/ws"
	}
	defer writeApi.Flush()
	var dialer websocket.Dialer
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	log.Printf("logging %s", url)
	for {
		var status interface{}
		if err := conn.ReadJSON(&status); err != nil {
			return err
		}
		writeStatus(writeApi, status, time.Now())
	}
}
