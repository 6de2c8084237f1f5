// Package events provides the in-process event bus: a closed set of typed
// system events fanned out synchronously to subscribers.
package events

// EventType represents different event types
type EventType string

const (
	SyncStart     EventType = "SYNC_START"
	SyncComplete  EventType = "SYNC_COMPLETE"
	APICallStart  EventType = "API_CALL_START"
	APICallEnd    EventType = "API_CALL_END"
	ProcessStart  EventType = "PROCESSING_START"
	ProcessEnd    EventType = "PROCESSING_END"
	WebRequest    EventType = "WEB_REQUEST"
	TradeExecuted EventType = "TRADE_EXECUTED"
	ErrorOccurred EventType = "ERROR_OCCURRED"
	ErrorCleared  EventType = "ERROR_CLEARED"

	MaintenanceStart       EventType = "MAINTENANCE_START"
	MaintenanceComplete    EventType = "MAINTENANCE_COMPLETE"
	BackupStart            EventType = "BACKUP_START"
	BackupComplete         EventType = "BACKUP_COMPLETE"
	CleanupStart           EventType = "CLEANUP_START"
	CleanupComplete        EventType = "CLEANUP_COMPLETE"
	IntegrityCheckStart    EventType = "INTEGRITY_CHECK_START"
	IntegrityCheckComplete EventType = "INTEGRITY_CHECK_COMPLETE"

	JobStart             EventType = "JOB_START"
	JobComplete          EventType = "JOB_COMPLETE"
	ScoreRefreshStart    EventType = "SCORE_REFRESH_START"
	ScoreRefreshComplete EventType = "SCORE_REFRESH_COMPLETE"
	RebalanceStart       EventType = "REBALANCE_START"
	RebalanceComplete    EventType = "REBALANCE_COMPLETE"
	CashFlowSyncStart    EventType = "CASH_FLOW_SYNC_START"
	CashFlowSyncComplete EventType = "CASH_FLOW_SYNC_COMPLETE"
	TradeSyncStart       EventType = "TRADE_SYNC_START"
	TradeSyncComplete    EventType = "TRADE_SYNC_COMPLETE"

	APIError      EventType = "API_ERROR"
	DatabaseError EventType = "DATABASE_ERROR"
	BrokerError   EventType = "BROKER_ERROR"

	MarketsStatusChanged EventType = "MARKETS_STATUS_CHANGED"

	DisplayStateChanged        EventType = "DISPLAY_STATE_CHANGED"
	PlannerBatchComplete       EventType = "PLANNER_BATCH_COMPLETE"
	PlannerSequencesGenerated  EventType = "PLANNER_SEQUENCES_GENERATED"
	RecommendationsInvalidated EventType = "RECOMMENDATIONS_INVALIDATED"
)

// EventData is the marker interface for typed event payloads.
type EventData interface {
	EventDataType() EventType
}

// TradeExecutedData is emitted after a broker order is confirmed and recorded.
type TradeExecutedData struct {
	Symbol   string  `json:"symbol"`
	Side     string  `json:"side"`
	Quantity float64 `json:"quantity"`
	Price    float64 `json:"price"`
	ValueEUR float64 `json:"value_eur"`
	OrderID  string  `json:"order_id"`
}

func (d *TradeExecutedData) EventDataType() EventType { return TradeExecuted }

// PlannerBatchCompleteData reports evaluation progress for one hash.
type PlannerBatchCompleteData struct {
	PortfolioHash string `json:"portfolio_hash"`
	Evaluated     int    `json:"evaluated"`
	Total         int    `json:"total"`
	Finished      bool   `json:"finished"`
}

func (d *PlannerBatchCompleteData) EventDataType() EventType { return PlannerBatchComplete }

// PlannerSequencesGeneratedData reports a fresh generation run.
type PlannerSequencesGeneratedData struct {
	PortfolioHash string `json:"portfolio_hash"`
	Count         int    `json:"count"`
}

func (d *PlannerSequencesGeneratedData) EventDataType() EventType { return PlannerSequencesGenerated }

// ErrorEventData carries the short display message plus context.
type ErrorEventData struct {
	Message string                 `json:"message"`
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

func (d *ErrorEventData) EventDataType() EventType { return ErrorOccurred }

// JobEventData marks scheduler job lifecycle transitions.
type JobEventData struct {
	JobType    string `json:"job_type"`
	Status     string `json:"status,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
}

func (d *JobEventData) EventDataType() EventType { return JobStart }

// SyncEventData marks sync task boundaries (prices, trades, cash flows).
type SyncEventData struct {
	Source string `json:"source"`
	Count  int    `json:"count,omitempty"`
}

func (d *SyncEventData) EventDataType() EventType { return SyncStart }

// MaintenanceEventData marks maintenance chain boundaries.
type MaintenanceEventData struct {
	Task    string `json:"task"`
	Success bool   `json:"success,omitempty"`
}

func (d *MaintenanceEventData) EventDataType() EventType { return MaintenanceStart }
