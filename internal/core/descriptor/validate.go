package descriptor

import (
	"fmt"
	"strings"

	"github.com/docker/go-connections/nat"

	"github.com/artpar/releaser/internal/core/domain"
)

// =============================================================================
// Stack-local Validation
// =============================================================================

// ValidateLocal checks the build-time descriptor of a stack-local deployment.
//
// Rules, in order (first hard failure stops evaluation):
//  1. the descriptor is present
//  2. it rendered; diagnostics become warnings
//  3. every declared volume is external and owned by the namespace
//  4. one external network named as the namespace (warning only)
//  5. every published port is explicit and every volume reference is declared
//  6. no reserved service starts during deploy; each reserved service is
//     available under the one-shot profile (warning only)
func ValidateLocal(in Input) *Report {
	r := newReport()

	if in.Build == nil {
		return r.fail("", ErrMissingDescriptor, "build descriptor is missing")
	}
	if !checkRendered(r, in.Build) {
		return r
	}

	r.note("Validating declared volumes and ports...")
	declared := map[string]bool{}
	if !checkVolumes(r, in.Build, in.Namespace, declared) {
		return r
	}
	checkNetwork(r, in.Build, in.Namespace)

	svcs := services(in.Build.Tree)
	if svcs == nil {
		return r.fail("services", ErrNoServices, "unable to load services from '%s'", in.Build.Name)
	}
	for _, name := range sortedKeys(svcs) {
		svc, _ := svcs[name].(map[string]any)
		if !checkExplicitPorts(r, name, svc) {
			return r
		}
		if !checkVolumeRefs(r, in.Build.Name, name, svc, declared) {
			return r
		}
	}
	r.note("All published ports are valid")

	if !checkReservedStartup(r, in.StartupServices) {
		return r
	}
	checkOneShotAvailability(r, in, false)

	return r
}

// =============================================================================
// Cluster Validation
// =============================================================================

// ValidateCluster checks the build-time and deploy-time descriptors of a
// cluster deployment.
//
// Rules, in order (first hard failure stops evaluation):
//  1. both descriptors are present
//  2. the deploy-time descriptor declares no profiles
//  3. both rendered; diagnostics become warnings
//  4. volumes of both descriptors are external and owned by the namespace
//  5. one external network named as the namespace per descriptor (warning only)
//  6. each deploy-time service exists in the build-time descriptor, is not
//     reserved, has the same image, runs one instance per node, restarts on
//     failure, avoids update/replica/reservation attributes and mounts only
//     declared volumes
//  7. reserved services have a one-shot service and descriptor (warning only)
func ValidateCluster(in Input) *Report {
	r := newReport()

	if in.Build == nil {
		return r.fail("", ErrMissingDescriptor, "build descriptor is missing")
	}
	if in.Deploy == nil {
		return r.fail("", ErrMissingDescriptor, "deploy descriptor is missing")
	}

	if len(in.DeployProfiles) > 0 {
		return r.fail("profiles", ErrProfilesUnsupported,
			"profiles are not supported by the cluster runtime, found: %s; edit '%s' to remove them",
			strings.Join(in.DeployProfiles, ", "), in.Deploy.Name)
	}

	if !checkRendered(r, in.Build) || !checkRendered(r, in.Deploy) {
		return r
	}

	r.note("Validating declared volumes and ports...")
	declared := map[string]bool{}
	if !checkVolumes(r, in.Deploy, in.Namespace, declared) || !checkVolumes(r, in.Build, in.Namespace, declared) {
		return r
	}

	checkNetwork(r, in.Build, in.Namespace)
	checkNetwork(r, in.Deploy, in.Namespace)

	buildSvcs := services(in.Build.Tree)
	deploySvcs := services(in.Deploy.Tree)
	if buildSvcs == nil || deploySvcs == nil {
		return r.fail("services", ErrNoServices, "unable to load services from '%s' and '%s'", in.Build.Name, in.Deploy.Name)
	}

	nsNetwork := namespaceNetworkKey(in.Deploy.Tree, in.Namespace)

	for _, name := range sortedKeys(deploySvcs) {
		svc, _ := deploySvcs[name].(map[string]any)
		if !checkClusterService(r, in, name, svc, buildSvcs, nsNetwork, declared) {
			return r
		}
	}
	r.note("All deploy services are valid")

	if !checkReservedStartup(r, in.StartupServices) {
		return r
	}
	checkOneShotAvailability(r, in, true)

	return r
}

func checkClusterService(r *Report, in Input, name string, svc, buildSvcs map[string]any, nsNetwork string, declared map[string]bool) bool {
	field := "services." + name
	deployName := in.Deploy.Name

	if _, ok := buildSvcs[name]; !ok {
		r.fail(field, ErrServiceNotFound, "service '%s', present in '%s', is not declared in '%s'", name, deployName, in.Build.Name)
		return false
	}

	if IsReserved(name) {
		r.fail(field, ErrReservedService, "service '%s', present in '%s', is a one-shot service", name, deployName)
		return false
	}

	buildSvc, _ := buildSvcs[name].(map[string]any)
	deployImage, buildImage := text(svc, "image"), text(buildSvc, "image")
	if deployImage == "" || buildImage == "" {
		r.fail(field+".image", ErrMissingImage, "service '%s' has no image in '%s' or '%s'", name, in.Build.Name, deployName)
		return false
	}
	if deployImage != buildImage {
		r.fail(field+".image", ErrImageMismatch, "image of service '%s' in '%s' (%s) differs from '%s' (%s)",
			name, in.Build.Name, buildImage, deployName, deployImage)
		return false
	}

	nets := networkKeys(svc["networks"])
	if nsNetwork == "" || len(nets) != 1 || nets[0] != nsNetwork {
		r.warn("service '%s' does not refer only to the '%s' external network in '%s'", name, in.Namespace, deployName)
	}

	deploy := section(svc, "deploy")
	if mode := text(deploy, "mode"); mode != "" && mode != "global" {
		r.fail(field+".deploy.mode", ErrDeployMode,
			"only one instance per cluster node is accepted; remove deploy mode or set it to 'global' at service '%s' in '%s'", name, deployName)
		return false
	}

	if cond := text(section(deploy, "restart_policy"), "condition"); cond != "on-failure" {
		r.fail(field+".deploy.restart_policy", ErrRestartPolicy,
			"set restart policy condition of service '%s' in '%s' to 'on-failure'", name, deployName)
		return false
	}

	if hasDisallowedDeploy(deploy) {
		r.fail(field+".deploy", ErrDisallowedDeployOp,
			"'update_config', 'replicas' and 'resources.reservations' are not accepted; remove them at service '%s' in '%s'", name, deployName)
		return false
	}

	return checkVolumeRefs(r, deployName, name, svc, declared)
}

// =============================================================================
// One-shot Validation
// =============================================================================

// ValidateOneShot checks the cluster descriptor of a reserved one-shot
// service. One-shot services publish no ports, never restart, run a single
// unreplicated task, mount only declared external volumes and join exactly
// the namespace network.
func ValidateOneShot(namespace, service string, d *Rendered) *Report {
	r := newReport()

	if d == nil {
		return r.fail("", ErrMissingDescriptor, "one-shot descriptor for '%s' is missing", service)
	}
	if !checkRendered(r, d) {
		return r
	}

	svcs := services(d.Tree)
	if len(svcs) == 0 {
		return r.fail("services", ErrNoServices, "no service configured in '%s'", d.Name)
	}

	declared := map[string]bool{}
	if !checkVolumes(r, d, namespace, declared) {
		return r
	}

	if !hasNamespaceNetwork(d.Tree, namespace) {
		return r.fail("networks", ErrNetworkConvention,
			"exactly one external network named '%s' is required in '%s'", namespace, d.Name)
	}

	for _, name := range sortedKeys(svcs) {
		svc, _ := svcs[name].(map[string]any)
		field := "services." + name

		if text(svc, "image") == "" {
			return r.fail(field+".image", ErrMissingImage, "service '%s' has no image in '%s'", name, d.Name)
		}

		deploy := section(svc, "deploy")
		if has(deploy, "mode") {
			return r.fail(field+".deploy.mode", ErrDeployMode, "one-shot services cannot be replicated; remove deploy mode at service '%s' in '%s'", name, d.Name)
		}
		if cond := text(section(deploy, "restart_policy"), "condition"); cond != "none" {
			return r.fail(field+".deploy.restart_policy", ErrRestartPolicy, "one-shot services cannot restart; set restart policy condition to 'none' at service '%s' in '%s'", name, d.Name)
		}
		if hasDisallowedDeploy(deploy) {
			return r.fail(field+".deploy", ErrDisallowedDeployOp,
				"one-shot services cannot use 'update_config', 'replicas' or 'resources.reservations'; remove them at service '%s' in '%s'", name, d.Name)
		}
		if has(svc, "ports") {
			return r.fail(field+".ports", ErrPortsNotAllowed, "one-shot service '%s' cannot publish ports in '%s'", name, d.Name)
		}
		if !checkVolumeRefs(r, d.Name, name, svc, declared) {
			return r
		}
	}

	return r
}

// =============================================================================
// Shared Rules
// =============================================================================

func checkRendered(r *Report, d *Rendered) bool {
	for _, diag := range d.Diagnostics {
		r.warn("%s: %s", d.Name, diag)
	}
	if d.Err != nil {
		r.fail("", ErrRender, "'%s' is invalid, check volumes, ports and environment variables: %v", d.Name, d.Err)
		return false
	}
	if d.Tree == nil {
		r.fail("", ErrRender, "unable to load interpolated '%s'", d.Name)
		return false
	}
	return true
}

// checkVolumes verifies the top-level volumes of d and records their names in
// declared.
func checkVolumes(r *Report, d *Rendered, namespace string, declared map[string]bool) bool {
	vols := section(d.Tree, "volumes")
	if len(vols) == 0 {
		return true
	}

	r.note("Validating declared volumes in '%s'...", d.Name)
	for _, name := range sortedKeys(vols) {
		vol, _ := vols[name].(map[string]any)
		field := "volumes." + name

		if !truthy(vol["external"]) {
			r.fail(field, ErrVolumeNotExternal, "volume '%s' in '%s' is not external", name, d.Name)
			return false
		}

		external := text(vol, "name")
		if external == "" {
			external = name
		}
		if domain.VolumeOwner(external) != namespace {
			r.fail(field, ErrVolumeOwnership, "volume '%s' in '%s' points to '%s', outside namespace '%s'", name, d.Name, external, namespace)
			return false
		}

		declared[name] = true
	}
	r.note("All external volumes declared in '%s' are valid", d.Name)
	return true
}

func checkNetwork(r *Report, d *Rendered, namespace string) {
	if !hasNamespaceNetwork(d.Tree, namespace) {
		r.warn("one, and only one, external network named '%s' is recommended in '%s'", namespace, d.Name)
	}
}

func hasNamespaceNetwork(t Tree, namespace string) bool {
	nets := section(t, "networks")
	if len(nets) != 1 {
		return false
	}
	net, _ := nets[sortedKeys(nets)[0]].(map[string]any)
	return truthy(net["external"]) && text(net, "name") == namespace
}

// namespaceNetworkKey returns the key under which the namespace network is
// declared, or "" when the descriptor does not follow the convention.
func namespaceNetworkKey(t Tree, namespace string) string {
	nets := section(t, "networks")
	for _, key := range sortedKeys(nets) {
		net, _ := nets[key].(map[string]any)
		if text(net, "name") == namespace || (text(net, "name") == "" && key == namespace) {
			return key
		}
	}
	return ""
}

func checkExplicitPorts(r *Report, name string, svc map[string]any) bool {
	ports, _ := svc["ports"].([]any)
	for i, p := range ports {
		if !explicitPort(p) {
			r.fail(fmt.Sprintf("services.%s.ports[%d]", name, i), ErrImplicitPort,
				"service '%s' exposes a random port; every published port must be explicit, or move the service to a profile", name)
			return false
		}
	}
	return true
}

// explicitPort reports whether a port entry publishes a concrete, non-zero
// host port.
func explicitPort(entry any) bool {
	switch p := entry.(type) {
	case map[string]any:
		published := text(p, "published")
		if published == "" {
			return false
		}
		start, _, err := nat.ParsePortRangeToInt(published)
		return err == nil && start > 0
	case string, int:
		mappings, err := nat.ParsePortSpec(fmt.Sprint(p))
		if err != nil || len(mappings) == 0 {
			return false
		}
		for _, m := range mappings {
			if start, _, err := nat.ParsePortRangeToInt(m.Binding.HostPort); err != nil || start == 0 {
				return false
			}
		}
		return true
	}
	return false
}

func checkVolumeRefs(r *Report, descriptorName, name string, svc map[string]any, declared map[string]bool) bool {
	vols, _ := svc["volumes"].([]any)
	for i, v := range vols {
		src, ok := volumeSource(v)
		if !ok {
			continue
		}
		if !declared[src] {
			r.fail(fmt.Sprintf("services.%s.volumes[%d]", name, i), ErrVolumeUndeclared,
				"volume '%s' used by service '%s' is not declared as external in '%s'", src, name, descriptorName)
			return false
		}
	}
	return true
}

func hasDisallowedDeploy(deploy map[string]any) bool {
	return has(deploy, "update_config") || has(deploy, "replicas") || has(section(deploy, "resources"), "reservations")
}

func checkReservedStartup(r *Report, startup []string) bool {
	r.note("Checking that no one-shot service starts during deploy...")
	for _, name := range ReservedServices {
		if contains(startup, name) {
			r.fail("services."+name, ErrReservedService,
				"service '%s' cannot start during deploy; check its 'profiles' attribute", name)
			return false
		}
	}
	return true
}

func checkOneShotAvailability(r *Report, in Input, requireDescriptor bool) {
	var missing []string
	for _, name := range ReservedServices {
		if !contains(in.OneShotServices, name) || (requireDescriptor && !in.OneShotDescriptors[name]) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		r.warn("recommended one-shot services not found: %s", strings.Join(missing, ", "))
	}
}
