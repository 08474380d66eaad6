package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"

	"github.com/Makr91/zoneweaver-api/internal/command"
	"github.com/Makr91/zoneweaver-api/internal/console"
	"github.com/Makr91/zoneweaver-api/internal/models"
	"github.com/Makr91/zoneweaver-api/internal/store"
	srvErrors "github.com/Makr91/zoneweaver-api/pkg/errors"
	"github.com/Makr91/zoneweaver-api/pkg/sshutil"
)

// Handlers bundles the host-facing collaborators operation handlers need:
// the Command Runner (§4.2), the Store (for zone status updates) and the
// Console Multiplexer (for zone_setup's recipe automation). RegisterAll
// binds each operation in §6.2 to its handler on e.
type Handlers struct {
	runner  *command.Runner
	store   *store.Store
	console *console.Multiplexer
}

func NewHandlers(runner *command.Runner, st *store.Store, mux *console.Multiplexer) *Handlers {
	return &Handlers{runner: runner, store: st, console: mux}
}

// RegisterAll binds every operation handler this package implements onto
// e. Parent/orchestration operations (zone_sync_parent, zone_provision_parent,
// zone_provision_orchestration) carry no handler — their status is purely
// the aggregate of their children (§4.3.6) — so they are not registered.
func (h *Handlers) RegisterAll(e *Engine) {
	e.Register(models.OpStart, h.start)
	e.Register(models.OpStop, h.stop)
	e.Register(models.OpDelete, h.deleteZone)
	e.Register(models.OpZoneCreate, h.zoneCreate)
	e.Register(models.OpZoneModify, h.zoneModify)
	e.Register(models.OpZoneProvisioningExtract, h.zoneProvisioningExtract)
	e.Register(models.OpZoneSetup, h.zoneSetup)
	e.Register(models.OpZoneWaitSSH, h.zoneWaitSSH)
	e.Register(models.OpZoneSync, h.zoneSync)
	e.Register(models.OpZoneProvision, h.zoneProvision)
	e.Register(models.OpCreateVNIC, h.commandHandler("dladm", "create-vnic"))
	e.Register(models.OpDeleteVNIC, h.commandHandler("dladm", "delete-vnic"))
	e.Register(models.OpSetVNICProperties, h.commandHandler("dladm", "set-linkprop"))
	e.Register(models.OpPkgInstall, h.commandHandler("pkg", "install"))
	e.Register(models.OpPkgUninstall, h.commandHandler("pkg", "uninstall"))
	e.Register(models.OpUserCreate, h.commandHandler("useradd"))
	e.Register(models.OpUserModify, h.commandHandler("usermod"))
	e.Register(models.OpUserDelete, h.commandHandler("userdel"))
	e.Register(models.OpUserSetPassword, h.commandHandler("passwd"))
	e.Register(models.OpUserLock, h.commandHandler("usermod", "-L"))
	e.Register(models.OpUserUnlock, h.commandHandler("usermod", "-U"))
	e.Register(models.OpGroupCreate, h.commandHandler("groupadd"))
	e.Register(models.OpGroupModify, h.commandHandler("groupmod"))
	e.Register(models.OpGroupDelete, h.commandHandler("groupdel"))
	e.Register(models.OpRoleCreate, h.commandHandler("roleadd"))
	e.Register(models.OpRoleModify, h.commandHandler("rolemod"))
	e.Register(models.OpRoleDelete, h.commandHandler("roledel"))
}

func (h *Handlers) start(ctx context.Context, t *models.Task) error {
	res, err := h.runner.Run(ctx, []string{"zoneadm", "-z", t.ZoneName, "boot"}, command.Options{Timeout: 60 * time.Second})
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	if !res.OK {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("zoneadm boot failed: %s", res.Stderr), true)
	}
	zone, err := h.store.Zones.Get(ctx, t.ZoneName)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, false)
	}
	zone.Status = models.ZoneRunning
	if err := h.store.Zones.Upsert(ctx, zone); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) stop(ctx context.Context, t *models.Task) error {
	res, err := h.runner.Run(ctx, []string{"zoneadm", "-z", t.ZoneName, "halt"}, command.Options{Timeout: 60 * time.Second})
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	if !res.OK {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("zoneadm halt failed: %s", res.Stderr), true)
	}
	zone, err := h.store.Zones.Get(ctx, t.ZoneName)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, false)
	}
	zone.Status = models.ZoneDown
	if err := h.store.Zones.Upsert(ctx, zone); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) deleteZone(ctx context.Context, t *models.Task) error {
	res, err := h.runner.Run(ctx, []string{"zonecfg", "-z", t.ZoneName, "delete", "-F"}, command.Options{Timeout: 30 * time.Second})
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	if !res.OK {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("zonecfg delete failed: %s", res.Stderr), false)
	}
	if err := h.store.Zones.Delete(ctx, t.ZoneName); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) zoneCreate(ctx context.Context, t *models.Task) error {
	brand := gjson.Get(t.Metadata, "brand").String()
	if brand == "" {
		brand = "ipkg"
	}
	res, err := h.runner.Run(ctx, []string{"zonecfg", "-z", t.ZoneName, "create", "-t", "SYSdefault"}, command.Options{Timeout: 30 * time.Second})
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	if !res.OK {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("zonecfg create failed: %s", res.Stderr), false)
	}
	zone := &models.Zone{
		Name:          t.ZoneName,
		ZoneID:        t.ZoneName,
		Host:          "localhost",
		Brand:         brand,
		Status:        models.ZoneConfigured,
		Configuration: t.Metadata,
	}
	if err := h.store.Zones.Upsert(ctx, zone); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) zoneModify(ctx context.Context, t *models.Task) error {
	if err := h.store.Zones.UpdateConfiguration(ctx, t.ZoneName, t.Metadata); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) zoneProvisioningExtract(ctx context.Context, t *models.Task) error {
	artifactID := gjson.Get(t.Metadata, "artifact_id").String()
	datasetPath := gjson.Get(t.Metadata, "dataset_path").String()
	res, err := h.runner.Run(ctx,
		[]string{"zfs", "receive", "-F", datasetPath},
		command.Options{Timeout: 10 * time.Minute, Env: []string{"ARTIFACT_ID=" + artifactID}},
	)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	if !res.OK {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("extract failed: %s", res.Stderr), true)
	}
	return nil
}

// zoneSetup drives a Recipe over the zone's zlogin console (§GLOSSARY,
// §4.3.4: "may publish writes to the Console Multiplexer").
func (h *Handlers) zoneSetup(ctx context.Context, t *models.Task) error {
	recipeID := gjson.Get(t.Metadata, "recipe_id").String()
	recipe, err := h.store.Provisioning.GetRecipe(ctx, recipeID)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, false)
	}

	if _, err := h.console.GetOrCreate(ctx, t.ZoneName); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	h.console.SetAutomationActive(t.ZoneName, true)
	defer h.console.SetAutomationActive(t.ZoneName, false)

	select {
	case <-ctx.Done():
		return srvErrors.NewHandlerError(string(t.Operation), ctx.Err(), false)
	default:
	}

	if err := h.console.Write(t.ZoneName, []byte(recipe.Script+"\n")); err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	return nil
}

func (h *Handlers) zoneWaitSSH(ctx context.Context, t *models.Task) error {
	ip := gjson.Get(t.Metadata, "ip").String()
	port := int(gjson.Get(t.Metadata, "port").Int())
	creds := parseCredentials(t.Metadata)

	select {
	case <-ctx.Done():
		return srvErrors.NewHandlerError(string(t.Operation), ctx.Err(), false)
	default:
	}

	if !sshutil.Probe(ctx, ip, port, creds, 5*time.Second) {
		return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("ssh not yet reachable at %s:%d", ip, port), true)
	}
	return nil
}

// zoneSync syncs every configured folder over one SSH connection. A zone
// may configure several sync folders, but zone_sync is in the mutex set
// (§4.3.3), so the Provisioning Orchestrator packs them all into a single
// task's metadata rather than one task per folder.
func (h *Handlers) zoneSync(ctx context.Context, t *models.Task) error {
	ip := gjson.Get(t.Metadata, "ip").String()
	creds := parseCredentials(t.Metadata)

	var folders []models.SyncFolder
	if raw := gjson.Get(t.Metadata, "folders").Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &folders); err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, false)
		}
	} else if localPath := gjson.Get(t.Metadata, "local_path").String(); localPath != "" {
		folders = []models.SyncFolder{{
			LocalPath:  localPath,
			RemotePath: gjson.Get(t.Metadata, "remote_path").String(),
			ReadOnly:   gjson.Get(t.Metadata, "read_only").Bool(),
		}}
	}

	if len(folders) == 0 {
		return nil
	}

	client, err := sshutil.Dial(ctx, ip, 22, creds, 10*time.Second)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	defer client.Close()

	for _, folder := range folders {
		res, err := h.runner.Run(ctx, []string{"tar", "-cf", "-", "-C", folder.LocalPath, "."}, command.Options{Timeout: 5 * time.Minute})
		if err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, true)
		}
		if !res.OK {
			return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("tar failed: %s", res.Stderr), true)
		}

		if err := sshutil.SyncFolder(ctx, client, map[string][]byte{folder.RemotePath + "/manifest.tar": []byte(res.Stdout)}); err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, true)
		}
	}
	return nil
}

// zoneProvision runs every configured provisioner over one SSH connection,
// packed into a single task's metadata for the same mutex-set reason as
// zoneSync above.
func (h *Handlers) zoneProvision(ctx context.Context, t *models.Task) error {
	ip := gjson.Get(t.Metadata, "ip").String()
	creds := parseCredentials(t.Metadata)

	var provisioners []models.Provisioner
	if raw := gjson.Get(t.Metadata, "provisioners").Raw; raw != "" {
		if err := json.Unmarshal([]byte(raw), &provisioners); err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, false)
		}
	} else if cmd := gjson.Get(t.Metadata, "command").String(); cmd != "" {
		provisioners = []models.Provisioner{{Kind: gjson.Get(t.Metadata, "kind").String(), Command: cmd}}
	}

	if len(provisioners) == 0 {
		return nil
	}

	client, err := sshutil.Dial(ctx, ip, 22, creds, 10*time.Second)
	if err != nil {
		return srvErrors.NewHandlerError(string(t.Operation), err, true)
	}
	defer client.Close()

	for _, p := range provisioners {
		if _, err := sshutil.RunCommand(ctx, client, p.Command); err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, true)
		}
	}
	return nil
}

// commandHandler builds a Handler that runs argvPrefix followed by the
// task's metadata-supplied "args" array, covering the VNIC/pkg/user/group
// /role operations of §6.2 without a bespoke handler per operation.
func (h *Handlers) commandHandler(argvPrefix ...string) Handler {
	return func(ctx context.Context, t *models.Task) error {
		var extra []string
		if raw := gjson.Get(t.Metadata, "args"); raw.IsArray() {
			for _, v := range raw.Array() {
				extra = append(extra, v.String())
			}
		}
		argv := append(append([]string{}, argvPrefix...), extra...)

		res, err := h.runner.Run(ctx, argv, command.Options{Timeout: 30 * time.Second})
		if err != nil {
			return srvErrors.NewHandlerError(string(t.Operation), err, true)
		}
		if !res.OK {
			return srvErrors.NewHandlerError(string(t.Operation), fmt.Errorf("%v failed: %s", argv, res.Stderr), false)
		}
		return nil
	}
}

func parseCredentials(metadata string) models.Credentials {
	var creds models.Credentials
	raw := gjson.Get(metadata, "credentials").Raw
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &creds)
	}
	return creds
}
