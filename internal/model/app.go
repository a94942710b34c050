package model

const (
	AppServiceName = "export_worker"
	NamespaceName  = "yoma"
)

var versions = []string{
	"25.09",
	"25.07",
	"25.05",
}

var (
	CurrentVersion = versions[0]
)
