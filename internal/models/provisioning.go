package models

import "time"

// ProvisioningProfile is a named, reusable bundle of provisioning
// metadata (artifact, recipe, playbooks, sync folders) that a zone's
// configuration document may reference by ID.
type ProvisioningProfile struct {
	ID        string
	Name      string
	Document  string // opaque JSON: artifact_id, recipe_id, playbooks, folders
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Recipe is a named zlogin console automation script run before SSH is
// reachable (§GLOSSARY).
type Recipe struct {
	ID        string
	Name      string
	Script    string
	CreatedAt time.Time
}

// SyncFolder describes one entry of a zone configuration's folder sync
// list (§9 Open Questions: the richer per-folder form is adopted).
type SyncFolder struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	ReadOnly   bool   `json:"read_only"`
}

// Provisioner describes one remote-execution step run over SSH against a
// zone (a shell command or an Ansible playbook path).
type Provisioner struct {
	Kind    string `json:"kind"` // "shell" or "playbook"
	Command string `json:"command"`
}

// Credentials carries the SSH identity used for zone_wait_ssh, zone_sync
// and zone_provision.
type Credentials struct {
	Username   string `json:"username"`
	Password   string `json:"password,omitempty"`
	PrivateKey string `json:"private_key,omitempty"`
}

// NetworkEntry is one element of a zone configuration's networks array;
// the entry tagged Control supplies the fallback target IP (§4.4).
type NetworkEntry struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	Control bool   `json:"control"`
}

// ZoneProvisioningConfig is the provisioning-relevant projection of a
// Zone's opaque Configuration document, as read by the Provisioning
// Orchestrator (§4.4).
type ZoneProvisioningConfig struct {
	ArtifactID   string
	RecipeID     string
	SkipBoot     bool
	SkipRecipe   bool
	Zonepath     string
	IP           string
	Port         int
	Credentials  Credentials
	Networks     []NetworkEntry
	SyncFolders  []SyncFolder
	Provisioners []Provisioner
}
