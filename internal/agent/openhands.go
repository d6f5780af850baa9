package agent

import "strconv"

const (
	openHandsImage        = "docker.all-hands.dev/all-hands-ai/openhands:0.15"
	openHandsRuntimeImage = "docker.all-hands.dev/all-hands-ai/runtime:0.15-nikolaik"
	openHandsWorkspace    = "/opt/workspace_base"
	dockerSocket          = "/var/run/docker.sock"
	hostGateway           = "host.docker.internal:host-gateway"
)

type openHands struct{ s Settings }

func (openHands) Name() string { return string(KindOpenHands) }

func (o openHands) BuildLaunchParams(workspacePath, instructions string) (LaunchParams, error) {
	if err := requireWorkspace(workspacePath); err != nil {
		return LaunchParams{}, err
	}
	runtime := o.s.Override.RuntimeImage
	if runtime == "" {
		runtime = openHandsRuntimeImage
	}
	env := map[string]string{
		"SANDBOX_RUNTIME_CONTAINER_IMAGE": runtime,
		"SANDBOX_USER_ID":                 strconv.Itoa(o.s.UID),
		"WORKSPACE_MOUNT_PATH":            workspacePath,
		"LLM_MODEL":                       o.s.Model,
		"LOG_ALL_EVENTS":                  "true",
		"GIT_ASKPASS":                     "echo",
		"GIT_TERMINAL_PROMPT":             "0",
	}
	putIf(env, "LLM_API_KEY", o.s.OpenAIAPIKey)
	p := LaunchParams{
		Image:      o.s.image(openHandsImage),
		NamePrefix: "openhands-app-" + o.s.Now().Format("20060102150405"),
		Entrypoint: []string{"python", "-m", "openhands.core.main"},
		Cmd:        []string{"-t", instructions, "--no-auto-continue"},
		Env:        env,
		Binds: []string{
			workspacePath + ":" + openHandsWorkspace,
			dockerSocket + ":" + dockerSocket,
		},
		ExtraHosts: []string{hostGateway},
	}
	return o.s.apply(p), nil
}
