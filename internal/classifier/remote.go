package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Predict request/reply operations for the wire protocol.
const (
	opPredict     = "predict"
	opPredictProb = "predict_proba"
)

// predictRequest is the payload sent to the classifier responder.
type predictRequest struct {
	Op       string                `json:"op"`
	Features *domain.FeatureVector `json:"features"`
}

// predictReply is the responder's answer. Probabilities are ordered
// [p_legitimate, p_fraud], matching the trained pipeline.
type predictReply struct {
	Prediction    int        `json:"prediction"`
	Probabilities [2]float64 `json:"probabilities"`
	Error         string     `json:"error,omitempty"`
}

// BusClassifier reaches the externally trained model over the event bus
// request-reply pattern. The responder process owns model loading and
// inference; this client only speaks the wire protocol. Safe for concurrent
// use: each call is an independent request.
type BusClassifier struct {
	bus      domain.EventBus
	tenantID string
	topic    string
	timeout  time.Duration
}

// NewBusClassifier creates a classifier client over the given bus.
func NewBusClassifier(bus domain.EventBus, tenantID string, cfg domain.ClassifierConfig) *BusClassifier {
	topic := cfg.Topic
	if topic == "" {
		topic = domain.TopicClassifierPredict
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BusClassifier{
		bus:      bus,
		tenantID: tenantID,
		topic:    topic,
		timeout:  timeout,
	}
}

// Predict returns 0 or 1 from the remote model.
func (c *BusClassifier) Predict(ctx context.Context, fv *domain.FeatureVector) (int, error) {
	reply, err := c.roundTrip(ctx, opPredict, fv)
	if err != nil {
		return 0, err
	}
	return reply.Prediction, nil
}

// PredictProbability returns [p_legitimate, p_fraud] from the remote model.
func (c *BusClassifier) PredictProbability(ctx context.Context, fv *domain.FeatureVector) ([2]float64, error) {
	reply, err := c.roundTrip(ctx, opPredictProb, fv)
	if err != nil {
		return [2]float64{}, err
	}
	return reply.Probabilities, nil
}

func (c *BusClassifier) roundTrip(ctx context.Context, op string, fv *domain.FeatureVector) (*predictReply, error) {
	if c.bus == nil {
		return nil, domain.ErrClassifierUnavailable
	}

	payload, err := json.Marshal(&predictRequest{Op: op, Features: fv})
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", op, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	data, err := c.bus.Request(ctx, c.tenantID, c.topic, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrClassifierUnavailable, err)
	}

	var reply predictReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal %s reply: %w", op, err)
	}
	if reply.Error != "" {
		// Feature-shape mismatches and inference faults come back here.
		return nil, fmt.Errorf("classifier: %s", reply.Error)
	}
	return &reply, nil
}
