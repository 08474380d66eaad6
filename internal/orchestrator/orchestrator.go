// Package orchestrator implements the Provisioning Orchestrator (§4.4): a
// stateless planner that reads a zone's stored configuration and emits a
// chained set of Task Engine inserts.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
	"github.com/Makr91/zoneweaver-api/pkg/sshutil"
)

var zoneNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)

// ProbeTimeout bounds the pre-flight SSH reachability checks in step 3/4
// so provisioning optimisations never block the dispatcher (§5).
const ProbeTimeout = 3 * time.Second

// Orchestrator plans provisioning task chains.
type Orchestrator struct {
	store  *store.Store
	logger *zap.SugaredLogger
}

func New(st *store.Store, logger *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{store: st, logger: logger}
}

// PlanResult describes the chain produced by Plan.
type PlanResult struct {
	OrchestrationTaskID string
	TaskIDs             []string
}

// Plan reads zoneName's stored configuration and inserts the task chain
// described in §4.4, validating inputs before any insert (§4.4:
// "Validation failures return an error and leave the Store untouched").
func (o *Orchestrator) Plan(ctx context.Context, zoneName, createdBy string) (*PlanResult, error) {
	if !zoneNamePattern.MatchString(zoneName) {
		return nil, srvErrors.NewValidationError("zone_name", "contains characters outside the permitted set")
	}

	zone, err := o.store.Zones.Get(ctx, zoneName)
	if err != nil {
		return nil, err
	}

	cfg, err := ParseConfiguration(zone.Configuration, zone.ZoneID)
	if err != nil {
		return nil, err
	}

	if cfg.Credentials.Username == "" {
		return nil, srvErrors.NewValidationError("configuration.credentials.username", "is required")
	}
	targetIP := ResolveTargetIP(cfg)
	if targetIP == "" {
		return nil, srvErrors.NewValidationError("configuration", "no resolvable target IP (explicit ip field or control network entry)")
	}
	cfg.IP = targetIP

	parent := &models.Task{
		ZoneName:  zoneName,
		Operation: models.OpZoneProvisionOrchestation,
		Priority:  models.PriorityHigh,
		Status:    models.TaskRunning,
		CreatedBy: createdBy,
	}
	parent, _, err = o.store.Tasks.Insert(ctx, parent)
	if err != nil {
		return nil, err
	}

	result := &PlanResult{OrchestrationTaskID: parent.ID}
	var previous *string

	insert := func(op models.Operation, priority models.Priority, metadata string) (string, error) {
		t := &models.Task{
			ZoneName:     zoneName,
			Operation:    op,
			Priority:     priority,
			DependsOn:    previous,
			ParentTaskID: &parent.ID,
			Metadata:     metadata,
			CreatedBy:    createdBy,
		}
		// Coordinators have no handler: they start running and stay out of
		// the depends_on chain, their status being the aggregate of children.
		isParent := op == models.OpZoneSyncParent || op == models.OpZoneProvisionParent
		if isParent {
			t.Status = models.TaskRunning
		}
		inserted, _, err := o.store.Tasks.Insert(ctx, t)
		if err != nil {
			return "", err
		}
		result.TaskIDs = append(result.TaskIDs, inserted.ID)
		if !isParent {
			previous = &inserted.ID
		}
		return inserted.ID, nil
	}

	if cfg.ArtifactID != "" {
		meta := fmt.Sprintf(`{"artifact_id":%q,"dataset_path":%q}`, cfg.ArtifactID, cfg.Zonepath+"/dataset")
		if _, err := insert(models.OpZoneProvisioningExtract, models.PriorityHigh, meta); err != nil {
			return nil, err
		}
	}

	if !cfg.SkipBoot && zone.Status != models.ZoneRunning {
		if _, err := insert(models.OpStart, models.PriorityHigh, `{}`); err != nil {
			return nil, err
		}
	}

	if cfg.RecipeID != "" && !cfg.SkipRecipe {
		sshReachable := sshutil.Probe(ctx, cfg.IP, cfg.Port, cfg.Credentials, ProbeTimeout)
		if !sshReachable {
			meta := fmt.Sprintf(`{"recipe_id":%q,"ip":%q}`, cfg.RecipeID, cfg.IP)
			if _, err := insert(models.OpZoneSetup, models.PriorityNormal, meta); err != nil {
				return nil, err
			}
		}
	}

	credMeta := credentialsJSON(cfg)
	waitSSHMeta := fmt.Sprintf(`{"ip":%q,"port":%d,"credentials":%s}`, cfg.IP, effectivePort(cfg.Port), credMeta)
	if _, err := insert(models.OpZoneWaitSSH, models.PriorityNormal, waitSSHMeta); err != nil {
		return nil, err
	}

	// zone_sync and zone_provision are both in the mutex set (§4.3.3): at
	// most one task per (zone_name, operation) may be pending/running at a
	// time, so a per-folder/per-provisioner child would collapse onto a
	// single idempotent-queued row instead of running every entry. Each
	// wrapper therefore carries its whole list in one task's metadata.
	if len(cfg.SyncFolders) > 0 {
		syncParentMeta := fmt.Sprintf(`{"total_folders":%d}`, len(cfg.SyncFolders))
		syncParentID, err := insert(models.OpZoneSyncParent, models.PriorityNormal, syncParentMeta)
		if err != nil {
			return nil, err
		}

		foldersJSON, err := json.Marshal(cfg.SyncFolders)
		if err != nil {
			return nil, err
		}
		meta := fmt.Sprintf(`{"folders":%s,"ip":%q,"credentials":%s}`, foldersJSON, cfg.IP, credMeta)
		t := &models.Task{
			ZoneName:     zoneName,
			Operation:    models.OpZoneSync,
			Priority:     models.PriorityNormal,
			DependsOn:    previous,
			ParentTaskID: &syncParentID,
			Metadata:     meta,
			CreatedBy:    createdBy,
		}
		inserted, _, err := o.store.Tasks.Insert(ctx, t)
		if err != nil {
			return nil, err
		}
		result.TaskIDs = append(result.TaskIDs, inserted.ID)
		previous = &inserted.ID
	}

	if len(cfg.Provisioners) > 0 {
		provParentMeta := fmt.Sprintf(`{"total_provisioners":%d}`, len(cfg.Provisioners))
		provParentID, err := insert(models.OpZoneProvisionParent, models.PriorityNormal, provParentMeta)
		if err != nil {
			return nil, err
		}

		provisionersJSON, err := json.Marshal(cfg.Provisioners)
		if err != nil {
			return nil, err
		}
		meta := fmt.Sprintf(`{"provisioners":%s,"ip":%q,"credentials":%s}`, provisionersJSON, cfg.IP, credMeta)
		t := &models.Task{
			ZoneName:     zoneName,
			Operation:    models.OpZoneProvision,
			Priority:     models.PriorityNormal,
			DependsOn:    previous,
			ParentTaskID: &provParentID,
			Metadata:     meta,
			CreatedBy:    createdBy,
		}
		inserted, _, err := o.store.Tasks.Insert(ctx, t)
		if err != nil {
			return nil, err
		}
		result.TaskIDs = append(result.TaskIDs, inserted.ID)
	}

	return result, nil
}

func ResolveTargetIP(cfg *models.ZoneProvisioningConfig) string {
	if cfg.IP != "" {
		return cfg.IP
	}
	for _, n := range cfg.Networks {
		if n.Control && n.IP != "" {
			return n.IP
		}
	}
	return ""
}

func effectivePort(port int) int {
	if port == 0 {
		return 22
	}
	return port
}

func credentialsJSON(cfg *models.ZoneProvisioningConfig) string {
	return fmt.Sprintf(`{"username":%q}`, cfg.Credentials.Username)
}

// ParseConfiguration reads the provisioning-relevant fields out of a
// zone's opaque configuration document with gjson, the read-only
// traversal the spec calls for instead of a full struct schema.
func ParseConfiguration(document, zonepathFallback string) (*models.ZoneProvisioningConfig, error) {
	if !gjson.Valid(document) {
		return nil, srvErrors.NewValidationError("configuration", "is not valid JSON")
	}
	root := gjson.Parse(document)

	cfg := &models.ZoneProvisioningConfig{
		ArtifactID: root.Get("artifact_id").String(),
		RecipeID:   root.Get("recipe_id").String(),
		SkipBoot:   root.Get("skip_boot").Bool(),
		SkipRecipe: root.Get("skip_recipe").Bool(),
		Zonepath:   root.Get("zonepath").String(),
		IP:         root.Get("ip").String(),
		Port:       int(root.Get("port").Int()),
		Credentials: models.Credentials{
			Username:   root.Get("credentials.username").String(),
			Password:   root.Get("credentials.password").String(),
			PrivateKey: root.Get("credentials.private_key").String(),
		},
	}
	if cfg.Zonepath == "" {
		cfg.Zonepath = "/zones/" + zonepathFallback
	}

	root.Get("networks").ForEach(func(_, value gjson.Result) bool {
		cfg.Networks = append(cfg.Networks, models.NetworkEntry{
			Name:    value.Get("name").String(),
			IP:      value.Get("ip").String(),
			Control: value.Get("control").Bool(),
		})
		return true
	})

	root.Get("folders").ForEach(func(_, value gjson.Result) bool {
		cfg.SyncFolders = append(cfg.SyncFolders, models.SyncFolder{
			LocalPath:  value.Get("local_path").String(),
			RemotePath: value.Get("remote_path").String(),
			ReadOnly:   value.Get("read_only").Bool(),
		})
		return true
	})

	root.Get("provisioners").ForEach(func(_, value gjson.Result) bool {
		cfg.Provisioners = append(cfg.Provisioners, models.Provisioner{
			Kind:    value.Get("kind").String(),
			Command: value.Get("command").String(),
		})
		return true
	})

	return cfg, nil
}
