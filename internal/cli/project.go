package cli

import (
	"github.com/spf13/cobra"

	"github.com/xuezhouyang/spec-kit-catpaw/internal/governance"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/model"
	"github.com/xuezhouyang/spec-kit-catpaw/pkg/pathutil"
)

// projectFlags describe the project context policies are evaluated against.
type projectFlags struct {
	name      string
	tags      []string
	techStack []string
	team      string
}

func (p *projectFlags) register(cmd *cobra.Command, withName bool) {
	f := cmd.Flags()
	if withName {
		f.StringVar(&p.name, "name", "", "project name")
	}
	f.StringSliceVar(&p.tags, "tags", nil, "project tags (comma separated)")
	f.StringSliceVar(&p.techStack, "tech-stack", nil, "technology stack (comma separated)")
	f.StringVar(&p.team, "team", "", "owning team")
}

func (p *projectFlags) request(actor string) governance.InitRequest {
	return governance.InitRequest{
		Name:      p.name,
		Tags:      splitList(p.tags),
		TechStack: splitList(p.techStack),
		Team:      p.team,
		Actor:     actor,
	}
}

func (p *projectFlags) context() model.ProjectContext {
	return governance.BuildContext(p.request(""))
}

// validate rejects tag and tech-stack entries that are not simple tokens.
func (p *projectFlags) validate() error {
	for _, v := range append(splitList(p.tags), splitList(p.techStack)...) {
		if err := pathutil.ValidateTag(v); err != nil {
			return err
		}
	}
	return nil
}
