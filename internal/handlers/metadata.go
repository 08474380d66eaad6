package handlers

import (
	"encoding/json"

	"github.com/Makr91/zoneweaver-api/internal/models"
)

// syncMetadata builds a zone_sync task's metadata document from an
// ad-hoc HTTP request plus the zone's stored credentials/IP. zone_sync is
// in the mutex set (§4.3.3), so the handler always expects a "folders"
// array even for a single ad-hoc folder.
func syncMetadata(localPath, remotePath string, cfg *models.ZoneProvisioningConfig) string {
	doc, _ := json.Marshal(map[string]any{
		"folders": []models.SyncFolder{{
			LocalPath:  localPath,
			RemotePath: remotePath,
			ReadOnly:   false,
		}},
		"ip":          cfg.IP,
		"credentials": cfg.Credentials,
	})
	return string(doc)
}

// provisionerMetadata builds a zone_provision task's metadata document
// for a single ad-hoc provisioner run, wrapped in the same "provisioners"
// array shape the Provisioning Orchestrator uses.
func provisionerMetadata(kind, command string, cfg *models.ZoneProvisioningConfig) string {
	doc, _ := json.Marshal(map[string]any{
		"provisioners": []models.Provisioner{{Kind: kind, Command: command}},
		"ip":           cfg.IP,
		"credentials":  cfg.Credentials,
	})
	return string(doc)
}
