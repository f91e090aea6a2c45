package dto

import (
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

type ErrorResponse struct {
	Error   string   `json:"error"`
	Kind    string   `json:"kind,omitempty"`
	Details []string `json:"details,omitempty"`
}

type SuccessResponse struct {
	Message string `json:"message"`
}

type JobResponse struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Type       string          `json:"type"`
	State      domain.JobState `json:"state"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  string          `json:"error_kind,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

func JobToResponse(job *domain.Job) *JobResponse {
	if job == nil {
		return nil
	}
	return &JobResponse{
		ID:         job.ID,
		Queue:      job.Queue,
		Type:       job.Type,
		State:      job.State,
		Attempts:   job.Attempts,
		Error:      job.Error,
		ErrorKind:  string(job.ErrorKind),
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
	}
}

// AcceptedResponse answers every request that only records intent and
// queues the work.
type AcceptedResponse struct {
	Message string       `json:"message"`
	Job     *JobResponse `json:"job"`
}

type ServerResponse struct {
	*domain.Server
	PluginsPending bool `json:"plugins_pending"`
}

func ServerToResponse(server *domain.Server) ServerResponse {
	return ServerResponse{Server: server, PluginsPending: server.Plugins().Pending()}
}

func ServersToResponse(servers []domain.Server) []ServerResponse {
	responses := make([]ServerResponse, len(servers))
	for i := range servers {
		responses[i] = ServerToResponse(&servers[i])
	}
	return responses
}

type CreateServerResponse struct {
	Server ServerResponse `json:"server"`
	Job    *JobResponse   `json:"job,omitempty"`
}

type ServiceResponse struct {
	*domain.Service
	// Pending lists the features whose remote state still differs from
	// the desired state.
	Pending []string `json:"pending"`
}

func ServiceToResponse(service *domain.Service) ServiceResponse {
	pending := []string{}
	add := func(name string, settled bool) {
		if !settled {
			pending = append(pending, name)
		}
	}
	add("domains", service.Domains().Settled())
	add("volumes", service.Volumes().Settled())
	add("ports", service.Ports().Settled())
	add("env", service.Env().Settled())
	add("scale", service.Scale().Settled())
	add("links", service.Links().Settled())
	add("certificate", service.CertificateDesired == service.CertificateObserved)
	return ServiceResponse{Service: service, Pending: pending}
}

func ServicesToResponse(services []domain.Service) []ServiceResponse {
	responses := make([]ServiceResponse, len(services))
	for i := range services {
		responses[i] = ServiceToResponse(&services[i])
	}
	return responses
}

type CreateServiceResponse struct {
	Service ServiceResponse `json:"service"`
	Job     *JobResponse    `json:"job,omitempty"`
}

type CreateOrderResponse struct {
	Order *domain.ProvisioningOrder `json:"order"`
	Job   *JobResponse              `json:"job,omitempty"`
}
