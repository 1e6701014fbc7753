package event

import (
	"fmt"

	"CurieLedger/internal/ledger"
)

// RiskParamUpdate replaces the clearinghouse-wide initial margin ratio.
// New params apply to operations sequenced after the update; existing
// accounts are not re-checked.
type RiskParamUpdate struct {
	IMRatio      int64 `json:"im_ratio"`      // RatioConfig scale
	EffectiveSeq int64 `json:"effective_seq"` // monotonic version of the params
	Timestamp    int64 `json:"timestamp"`
}

func (r *RiskParamUpdate) IdempotencyKey() string {
	return fmt.Sprintf("risk_param:%d", r.EffectiveSeq)
}

func (r *RiskParamUpdate) EventType() EventType {
	return EventTypeRiskParamUpdate
}

func (r *RiskParamUpdate) AssetID() *ledger.AssetID {
	return nil
}

func (r *RiskParamUpdate) SourceSequence() int64 {
	return r.EffectiveSeq
}

func (r *RiskParamUpdate) EventTime() int64 {
	return r.Timestamp
}
