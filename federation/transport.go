package federation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/kinfolkhq/kinfolk/db"
	"github.com/kinfolkhq/kinfolk/util"
)

// Deliverer ships envelopes to remote inboxes from a bounded worker pool,
// so a burst of outbound deliveries cannot exhaust resources. Delivery is
// fire-and-forget: failures are logged, never retried, and never surface
// to the caller that created the content.
type Deliverer struct {
	database *db.DB
	hostname string
	client   *http.Client
	scheme   string // https; tests flip to http
	jobs     chan deliveryJob
	wg       sync.WaitGroup
}

type deliveryJob struct {
	method      string
	destination string
	body        []byte
}

const defaultDeliveryWorkers = 8

// NewDeliverer starts the worker pool.
func NewDeliverer(database *db.DB, conf *util.AppConfig) *Deliverer {
	workers := conf.Conf.DeliveryWorkers
	if workers <= 0 {
		workers = defaultDeliveryWorkers
	}
	timeout := time.Duration(conf.Conf.DeliveryTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Deliverer{
		database: database,
		hostname: conf.Conf.Hostname,
		client:   &http.Client{Timeout: timeout},
		scheme:   "https",
		jobs:     make(chan deliveryJob, workers*32),
	}

	log.Printf("Transport: Starting %d delivery workers (timeout %s)", workers, timeout)
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Deliver serializes the envelope once and enqueues one job per
// destination. The call site returns immediately; a saturated queue drops
// the job with a log line rather than blocking the content mutation.
func (d *Deliverer) Deliver(method string, envelope interface{}, destinations []string) {
	// A nil deliverer means federation is disabled; mutations stay local.
	if d == nil || len(destinations) == 0 {
		return
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		log.Printf("Transport: Failed to marshal envelope: %v", err)
		return
	}

	for _, destination := range destinations {
		if destination == "" || destination == d.hostname {
			continue
		}
		select {
		case d.jobs <- deliveryJob{method: method, destination: destination, body: body}:
		default:
			log.Printf("Transport: Delivery queue full, dropping delivery to %s", destination)
		}
	}
}

// Stop drains the queue and waits for in-flight deliveries.
func (d *Deliverer) Stop() {
	close(d.jobs)
	d.wg.Wait()
}

func (d *Deliverer) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		if err := d.deliverOne(job); err != nil {
			log.Printf("Transport: Delivery to %s failed: %v", job.destination, err)
		}
	}
}

// deliverOne looks up the destination's trust record, signs the body with
// its shared secret and ships it. A bad destination never affects the
// others; each job is fully independent.
func (d *Deliverer) deliverOne(job deliveryJob) error {
	err, node := d.database.ReadAnyNodeByHostname(job.destination)
	if err != nil || node == nil {
		return fmt.Errorf("destination not in trust store")
	}
	if !node.Connected() {
		return fmt.Errorf("destination not connected")
	}

	req, err := http.NewRequest(job.method, d.inboxURL(job.destination), bytes.NewReader(job.body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", util.GetNameAndVersion())
	req.Header.Set(HeaderNodeHostname, d.hostname)
	req.Header.Set(HeaderNodeSignature, SignBody(node.SharedSecret, job.body))

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("remote node returned status: %d", resp.StatusCode)
	}

	log.Printf("Transport: Delivered %s to %s (status: %d)", job.method, job.destination, resp.StatusCode)
	return nil
}

func (d *Deliverer) inboxURL(hostname string) string {
	return fmt.Sprintf("%s://%s/federation/inbox", d.scheme, hostname)
}
