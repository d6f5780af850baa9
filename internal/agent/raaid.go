package agent

import "errors"

const (
	raAidImage   = "ra-aid:latest"
	raAidWorkDir = "/workspace"
)

type raAid struct{ s Settings }

func (raAid) Name() string { return string(KindRaAid) }

func (r raAid) BuildLaunchParams(workspacePath, instructions string) (LaunchParams, error) {
	if err := requireWorkspace(workspacePath); err != nil {
		return LaunchParams{}, err
	}
	if r.s.LiteLLMBase == "" {
		return LaunchParams{}, errors.New("ra-aid needs a LiteLLM api base")
	}
	env := map[string]string{
		"RAAID_ENABLED":   "1",
		"OPENAI_API_BASE": r.s.LiteLLMBase,
		"OPENAI_API_KEY":  r.s.LiteLLMAPIKey,
		"HOME":            "/tmp",
	}
	cmd := []string{"--cowboy-mode", "--provider", "openai-compatible"}
	if r.s.Model != "" {
		cmd = append(cmd, "--model", r.s.Model)
	}
	cmd = append(cmd, "-m", instructions)
	p := LaunchParams{
		Image:      r.s.image(raAidImage),
		NamePrefix: "raaid",
		Entrypoint: []string{"ra-aid"},
		Cmd:        cmd,
		Env:        env,
		Binds:      []string{workspacePath + ":" + raAidWorkDir},
		User:       r.s.user(),
		ExtraHosts: []string{hostGateway},
		WorkingDir: raAidWorkDir,
		Exclude:    []string{".ra-aid"},
	}
	return r.s.apply(p), nil
}
