// Package vpsa implements the VPSA aggregation engine: domain-weighted
// averaging of locally trained model updates into a single global update,
// plus the ledger-side data model those updates are stored under.
package vpsa

// Domain labels distinguishing a client's originating data distribution.
const (
	DomainSource = "source"
	DomainTarget = "target"
)

// GlobalModelID is the ledger key of the singleton global model.
const GlobalModelID = "vpsa-global-model"

// Client is a registered federated-learning participant.
type Client struct {
	ClientID      string  `json:"clientID"`
	Domain        string  `json:"domain"`
	IsActive      bool    `json:"isActive"`
	LastUpdate    string  `json:"lastUpdate"`
	DatasetSize   int     `json:"datasetSize"`
	ModelAccuracy float64 `json:"modelAccuracy"`
	DocType       string  `json:"docType"`
}

// LocalModel is a client's locally trained model update for one round.
// Weights, LatentFeatures and Prototypes are JSON documents serialized as
// strings, matching how the chaincode stores them.
type LocalModel struct {
	ModelID        string  `json:"modelID"`
	ClientID       string  `json:"clientID"`
	Round          int     `json:"round"`
	Domain         string  `json:"domain"`
	Weights        string  `json:"weights"`
	LatentFeatures string  `json:"latentFeatures"`
	Prototypes     string  `json:"prototypes"`
	Accuracy       float64 `json:"accuracy"`
	Loss           float64 `json:"loss"`
	AlignmentLoss  float64 `json:"alignmentLoss"`
	DataSize       int     `json:"dataSize"`
	Timestamp      string  `json:"timestamp"`
	Status         string  `json:"status"`
	DocType        string  `json:"docType"`
}

// GlobalModel is the aggregated global model maintained by the chaincode.
type GlobalModel struct {
	ModelID          string  `json:"modelID"`
	Version          int     `json:"version"`
	Round            int     `json:"round"`
	Weights          string  `json:"weights"`
	GlobalPrototypes string  `json:"globalPrototypes"`
	LatentDim        int     `json:"latentDim"`
	NumLatents       int     `json:"numLatents"`
	Accuracy         float64 `json:"accuracy"`
	Loss             float64 `json:"loss"`
	NumClients       int     `json:"numClients"`
	SourceClients    int     `json:"sourceClients"`
	TargetClients    int     `json:"targetClients"`
	Timestamp        string  `json:"timestamp"`
	Status           string  `json:"status"`
}

// AggregationConfig holds the ledger-resident aggregation parameters.
type AggregationConfig struct {
	ConfigID             string  `json:"configID"`
	MinClients           int     `json:"minClients"`
	MaxRounds            int     `json:"maxRounds"`
	SourceWeight         float64 `json:"sourceWeight"`
	TargetWeight         float64 `json:"targetWeight"`
	AlignmentWeight      float64 `json:"alignmentWeight"`
	ConvergenceThreshold float64 `json:"convergenceThreshold"`
	CurrentRound         int     `json:"currentRound"`
	LastUpdated          string  `json:"lastUpdated"`
}

// TrainingMetrics holds per-round summary metrics.
type TrainingMetrics struct {
	MetricID        string  `json:"metricID"`
	Round           int     `json:"round"`
	GlobalAccuracy  float64 `json:"globalAccuracy"`
	GlobalLoss      float64 `json:"globalLoss"`
	SourceAccuracy  float64 `json:"sourceAccuracy"`
	TargetAccuracy  float64 `json:"targetAccuracy"`
	AlignmentScore  float64 `json:"alignmentScore"`
	NumParticipants int     `json:"numParticipants"`
	Timestamp       string  `json:"timestamp"`
}

// Metrics is the summary produced by ComputeMetrics for one aggregation call.
type Metrics struct {
	GlobalAccuracy float64 `json:"global_accuracy"`
	GlobalLoss     float64 `json:"global_loss"`
	AlignmentScore float64 `json:"alignment_score"`
}
