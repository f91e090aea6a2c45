package domain

import "time"

// ServerPatch is a partial update of a Server. Nil fields are left alone.
type ServerPatch struct {
	ConnectionStatus    *ConnectionStatus
	ConnectionCheckedAt *time.Time
	IP                  *string
	Hostname            *string
	PublicIP            *string
	PrivateIP           *string
	OS                  *string
	OSVersion           *string
	DokkuVersion        *string
	CloudInitStatus     *string
	ProvisioningOrderID *string
	PluginsDesired      *List[PluginSpec]
	PluginsObserved     *List[PluginSpec]
}

func (p ServerPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

// Columns returns the patch keyed by database column.
func (p ServerPatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.ConnectionStatus != nil {
		cols["connection_status"] = *p.ConnectionStatus
	}
	if p.ConnectionCheckedAt != nil {
		cols["connection_checked_at"] = *p.ConnectionCheckedAt
	}
	setString(cols, "ip", p.IP)
	setString(cols, "hostname", p.Hostname)
	setString(cols, "public_ip", p.PublicIP)
	setString(cols, "private_ip", p.PrivateIP)
	setString(cols, "os", p.OS)
	setString(cols, "os_version", p.OSVersion)
	setString(cols, "dokku_version", p.DokkuVersion)
	setString(cols, "cloud_init_status", p.CloudInitStatus)
	setString(cols, "provisioning_order_id", p.ProvisioningOrderID)
	if p.PluginsDesired != nil {
		cols["plugins_desired"] = *p.PluginsDesired
	}
	if p.PluginsObserved != nil {
		cols["plugins_observed"] = *p.PluginsObserved
	}
	return cols
}

func (p ServerPatch) Apply(s *Server) {
	if p.ConnectionStatus != nil {
		s.ConnectionStatus = *p.ConnectionStatus
	}
	if p.ConnectionCheckedAt != nil {
		t := *p.ConnectionCheckedAt
		s.ConnectionCheckedAt = &t
	}
	applyString(&s.IP, p.IP)
	applyString(&s.Hostname, p.Hostname)
	applyString(&s.PublicIP, p.PublicIP)
	applyString(&s.PrivateIP, p.PrivateIP)
	applyString(&s.OS, p.OS)
	applyString(&s.OSVersion, p.OSVersion)
	applyString(&s.DokkuVersion, p.DokkuVersion)
	applyString(&s.CloudInitStatus, p.CloudInitStatus)
	applyString(&s.ProvisioningOrderID, p.ProvisioningOrderID)
	if p.PluginsDesired != nil {
		s.PluginsDesired = append(List[PluginSpec](nil), (*p.PluginsDesired)...)
	}
	if p.PluginsObserved != nil {
		s.PluginsObserved = append(List[PluginSpec](nil), (*p.PluginsObserved)...)
	}
}

// ServicePatch is a partial update of a Service.
type ServicePatch struct {
	Lifecycle           *Lifecycle
	Created             *bool
	DomainsDesired      *List[Domain]
	DomainsObserved     *List[Domain]
	VolumesDesired      *List[Volume]
	VolumesObserved     *List[Volume]
	PortsDesired        *List[PortMapping]
	PortsObserved       *List[PortMapping]
	EnvDesired          *List[EnvVar]
	EnvObserved         *List[EnvVar]
	ScaleDesired        *List[ProcessScale]
	ScaleObserved       *List[ProcessScale]
	LinksDesired        *List[Link]
	LinksObserved       *List[Link]
	CertificateEmail    *string
	CertificateDesired  *bool
	CertificateObserved *bool
}

func (p ServicePatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

func (p ServicePatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Lifecycle != nil {
		cols["lifecycle"] = *p.Lifecycle
	}
	if p.Created != nil {
		cols["created"] = *p.Created
	}
	setList(cols, "domains_desired", p.DomainsDesired)
	setList(cols, "domains_observed", p.DomainsObserved)
	setList(cols, "volumes_desired", p.VolumesDesired)
	setList(cols, "volumes_observed", p.VolumesObserved)
	setList(cols, "ports_desired", p.PortsDesired)
	setList(cols, "ports_observed", p.PortsObserved)
	setList(cols, "env_desired", p.EnvDesired)
	setList(cols, "env_observed", p.EnvObserved)
	setList(cols, "scale_desired", p.ScaleDesired)
	setList(cols, "scale_observed", p.ScaleObserved)
	setList(cols, "links_desired", p.LinksDesired)
	setList(cols, "links_observed", p.LinksObserved)
	setString(cols, "certificate_email", p.CertificateEmail)
	if p.CertificateDesired != nil {
		cols["certificate_desired"] = *p.CertificateDesired
	}
	if p.CertificateObserved != nil {
		cols["certificate_observed"] = *p.CertificateObserved
	}
	return cols
}

func (p ServicePatch) Apply(s *Service) {
	if p.Lifecycle != nil {
		s.Lifecycle = *p.Lifecycle
	}
	if p.Created != nil {
		s.Created = *p.Created
	}
	applyList(&s.DomainsDesired, p.DomainsDesired)
	applyList(&s.DomainsObserved, p.DomainsObserved)
	applyList(&s.VolumesDesired, p.VolumesDesired)
	applyList(&s.VolumesObserved, p.VolumesObserved)
	applyList(&s.PortsDesired, p.PortsDesired)
	applyList(&s.PortsObserved, p.PortsObserved)
	applyList(&s.EnvDesired, p.EnvDesired)
	applyList(&s.EnvObserved, p.EnvObserved)
	applyList(&s.ScaleDesired, p.ScaleDesired)
	applyList(&s.ScaleObserved, p.ScaleObserved)
	applyList(&s.LinksDesired, p.LinksDesired)
	applyList(&s.LinksObserved, p.LinksObserved)
	applyString(&s.CertificateEmail, p.CertificateEmail)
	if p.CertificateDesired != nil {
		s.CertificateDesired = *p.CertificateDesired
	}
	if p.CertificateObserved != nil {
		s.CertificateObserved = *p.CertificateObserved
	}
}

// OrderPatch is a partial update of a ProvisioningOrder.
type OrderPatch struct {
	Status        *OrderStatus
	Attempts      *int
	PublicIP      *string
	Hostname      *string
	FailureReason *string
	ServerID      *string
}

func (p OrderPatch) IsEmpty() bool {
	return len(p.Columns()) == 0
}

func (p OrderPatch) Columns() map[string]interface{} {
	cols := map[string]interface{}{}
	if p.Status != nil {
		cols["status"] = *p.Status
	}
	if p.Attempts != nil {
		cols["attempts"] = *p.Attempts
	}
	setString(cols, "public_ip", p.PublicIP)
	setString(cols, "hostname", p.Hostname)
	setString(cols, "failure_reason", p.FailureReason)
	setString(cols, "server_id", p.ServerID)
	return cols
}

func (p OrderPatch) Apply(o *ProvisioningOrder) {
	if p.Status != nil {
		o.Status = *p.Status
	}
	if p.Attempts != nil {
		o.Attempts = *p.Attempts
	}
	applyString(&o.PublicIP, p.PublicIP)
	applyString(&o.Hostname, p.Hostname)
	applyString(&o.FailureReason, p.FailureReason)
	applyString(&o.ServerID, p.ServerID)
}

// Ptr returns a pointer to v. Handy for building patches.
func Ptr[T any](v T) *T { return &v }

func setString(cols map[string]interface{}, col string, v *string) {
	if v != nil {
		cols[col] = *v
	}
}

func setList[T any](cols map[string]interface{}, col string, v *List[T]) {
	if v != nil {
		cols[col] = *v
	}
}

func applyString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func applyList[T any](dst *List[T], v *List[T]) {
	if v != nil {
		*dst = append(List[T](nil), (*v)...)
	}
}
