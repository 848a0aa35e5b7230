package defs

// MemberInfo describes one fleet member as reported by the admin API.
type MemberInfo struct {
	Index     int    `json:"index"`
	HTTPPort  int    `json:"httpPort"`
	GRPCPort  int    `json:"grpcPort"`
	Stopped   bool   `json:"stopped"`
	ProcessId string `json:"processId"`
}

type MemberStatus struct {
	MemberInfo
	Alive       bool `json:"alive"`
	IsReachable bool `json:"isReachable"`
}

type ClusterInfo struct {
	Size    int          `json:"size"`
	Started []int        `json:"started"`
	Stopped []int        `json:"stopped"`
	Members []MemberInfo `json:"members"`
}

type ServiceStatus struct {
	HTTPPort          int    `json:"httpPort"`
	GRPCPort          int    `json:"grpcPort"`
	CustomRequestPort int    `json:"customRequestPort"`
	ProcessId         string `json:"processId"`
	Alive             bool   `json:"alive"`
}
