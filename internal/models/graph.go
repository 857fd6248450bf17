package models

// ServiceGraphNode aggregates signal volume for one (service, environment).
type ServiceGraphNode struct {
	ID          string  `json:"id"`
	ServiceName string  `json:"serviceName"`
	Environment string  `json:"environment"`
	TotalEvents int     `json:"totalEvents"`
	ErrorEvents int     `json:"errorEvents"`
	ErrorRatio  float64 `json:"errorRatio"`
}

// ServiceGraphEdge counts observed transitions between two nodes. ErrorCount
// attributes to the destination signal of each transition.
type ServiceGraphEdge struct {
	ID         string `json:"id"`
	From       string `json:"from"`
	To         string `json:"to"`
	Count      int    `json:"count"`
	ErrorCount int    `json:"errorCount"`
}

// ServiceGraphMetadata summarises the signal set the graph was built from.
type ServiceGraphMetadata struct {
	TotalTraces int     `json:"totalTraces"`
	TotalEvents int     `json:"totalEvents"`
	ErrorRate   float64 `json:"errorRate"`
}

// ServiceGraph is the derived call-flow graph for one incident.
type ServiceGraph struct {
	Nodes    []ServiceGraphNode   `json:"nodes"`
	Edges    []ServiceGraphEdge   `json:"edges"`
	Metadata ServiceGraphMetadata `json:"metadata"`
}
