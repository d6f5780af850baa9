package agent

import "path"

const (
	aiderImage   = "paulgauthier/aider"
	aiderWorkDir = "/app"
)

type aider struct{ s Settings }

func (aider) Name() string { return string(KindAider) }

// The instructions travel as a file so no shell quoting is involved.
func (a aider) BuildLaunchParams(workspacePath, instructions string) (LaunchParams, error) {
	if err := requireWorkspace(workspacePath); err != nil {
		return LaunchParams{}, err
	}
	env := map[string]string{"HOME": "/tmp"}
	putIf(env, "OPENAI_API_KEY", a.s.OpenAIAPIKey)
	putIf(env, "OPENROUTER_API_KEY", a.s.OpenRouterAPIKey)
	p := LaunchParams{
		Image:      a.s.image(aiderImage),
		NamePrefix: "aider",
		Entrypoint: []string{"aider"},
		Cmd: []string{
			"--yes-always",
			"--no-auto-commits",
			"--no-gitignore",
			"--no-check-update",
			"--no-pretty",
			"--model", a.s.Model,
			"--message-file", path.Join(aiderWorkDir, InstructionsFile),
		},
		Env:        env,
		Binds:      []string{workspacePath + ":" + aiderWorkDir},
		User:       a.s.user(),
		WorkingDir: aiderWorkDir,
		Scaffold:   map[string]string{InstructionsFile: instructions},
		Exclude: []string{
			InstructionsFile,
			".aider.chat.history.md",
			".aider.input.history",
			".aider.tags.cache.v3",
		},
	}
	return a.s.apply(p), nil
}
