// Package schemac compiles a declarative schema description and a set of
// named operations into SQL text artifacts: full-schema DDL, one
// parameterized view or set-returning function per operation, and phased
// zero-downtime migration scripts. The compiler only produces text; hosts
// own files, connections, and execution.
package schemac

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/vektah/gqlparser/v2/ast"

	"github.com/leapstack-labs/schemac/internal/config"
	"github.com/leapstack-labs/schemac/pkg/artifact"
	"github.com/leapstack-labs/schemac/pkg/dialect"
	"github.com/leapstack-labs/schemac/pkg/ir"
	"github.com/leapstack-labs/schemac/pkg/migrate"
	"github.com/leapstack-labs/schemac/pkg/qir"
	"github.com/leapstack-labs/schemac/pkg/schema"
	"github.com/leapstack-labs/schemac/pkg/sqlast"
)

// Options configures a Compiler.
type Options struct {
	// Dialect is the target dialect name. Defaults to "postgres".
	Dialect string
	// IdentityMode selects how the caller-identity token compiles.
	// Defaults to dialect.IdentityFunction.
	IdentityMode dialect.IdentityMode
	// IdentityVar is the reserved operation variable for the caller
	// identity. Defaults to "viewer".
	IdentityVar string
	// AllowDestructive permits contract-phase migration operations.
	AllowDestructive bool
	// MaxIdentifierLength overrides the dialect's identifier byte
	// ceiling for generated object names. Zero keeps the dialect value.
	MaxIdentifierLength int
	// Logger receives debug output during compilation. Nil disables it.
	Logger *slog.Logger
}

// LoadOptions builds Options from layered configuration (defaults,
// schemac.yaml in dir, environment overrides).
func LoadOptions(dir string) (Options, error) {
	cfg, err := config.Load(dir)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Dialect:             cfg.Dialect,
		IdentityMode:        dialect.IdentityMode(cfg.IdentityMode),
		IdentityVar:         cfg.IdentityVar,
		AllowDestructive:    cfg.AllowDestructive,
		MaxIdentifierLength: cfg.MaxIdentifierLength,
	}, nil
}

// CompileSchema builds the validated schema model from SDL source.
func CompileSchema(source string) (*ir.Schema, error) {
	return schema.Build(source)
}

// ParseOperations parses an executable document into named query
// operations.
func ParseOperations(source string) ([]*ast.OperationDefinition, error) {
	return qir.ParseOperations(source)
}

// CompileErrors aggregates independent operation failures. Each entry is
// the structured error of one operation.
type CompileErrors []error

func (e CompileErrors) Error() string {
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "\n")
}

// Unwrap supports errors.Is and errors.As across the list.
func (e CompileErrors) Unwrap() []error { return e }

// Compiler compiles operations and migrations against one schema.
type Compiler struct {
	schema           *ir.Schema
	dialect          *dialect.Dialect
	mode             dialect.IdentityMode
	identityVar      string
	allowDestructive bool
	maxIdentLen      int
	logger           *slog.Logger
}

// New builds a Compiler from SDL source.
func New(schemaSource string, opts Options) (*Compiler, error) {
	name := opts.Dialect
	if name == "" {
		name = "postgres"
	}
	d, ok := dialect.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown dialect %q", name)
	}
	mode := opts.IdentityMode
	if mode == "" {
		mode = dialect.IdentityFunction
	}
	s, err := schema.Build(schemaSource)
	if err != nil {
		return nil, err
	}
	maxLen := opts.MaxIdentifierLength
	if maxLen == 0 {
		maxLen = d.MaxIdentLen
	}
	return &Compiler{
		schema:           s,
		dialect:          d,
		mode:             mode,
		identityVar:      opts.IdentityVar,
		allowDestructive: opts.AllowDestructive,
		maxIdentLen:      maxLen,
		logger:           opts.Logger,
	}, nil
}

// Schema returns the compiled schema model.
func (c *Compiler) Schema() *ir.Schema { return c.schema }

// CompileOperation compiles a single operation into its SQL artifact: a
// view when the operation binds no parameters, otherwise a set-returning
// function whose signature follows placeholder first-occurrence order.
func (c *Compiler) CompileOperation(op *ast.OperationDefinition) (artifact.Artifact, error) {
	return c.compileOperation(op, artifact.NewNamer(c.dialect, c.maxIdentLen))
}

// CompileOperations compiles every operation in the document. Failures
// are independent: all operations are attempted and the errors aggregated.
// Artifact names are collision-checked across the whole document.
func (c *Compiler) CompileOperations(source string) ([]artifact.Artifact, error) {
	ops, err := ParseOperations(source)
	if err != nil {
		return nil, err
	}
	namer := artifact.NewNamer(c.dialect, c.maxIdentLen)
	var artifacts []artifact.Artifact
	var errs CompileErrors
	for _, op := range ops {
		a, err := c.compileOperation(op, namer)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		artifacts = append(artifacts, a)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return artifacts, nil
}

func (c *Compiler) compileOperation(op *ast.OperationDefinition, namer *artifact.Namer) (artifact.Artifact, error) {
	compiled, err := qir.NewCompiler(c.schema, qir.Options{IdentityVar: c.identityVar}).Compile(op)
	if err != nil {
		return artifact.Artifact{}, err
	}
	lowerer := &qir.Lowerer{Dialect: c.dialect, IdentityMode: c.mode}
	sel, err := lowerer.Lower(compiled.Plan)
	if err != nil {
		return artifact.Artifact{}, err
	}

	name, err := namer.Name(compiled.Name, "")
	if err != nil {
		return artifact.Artifact{}, err
	}

	// Probe the rendered body: zero placeholders means the operation can
	// be a plain view.
	_, params, err := sqlast.Print(sel, c.dialect)
	if err != nil {
		return artifact.Artifact{}, err
	}
	if len(params) == 0 {
		sql, _, err := sqlast.Print(&sqlast.CreateView{Name: name, OrReplace: true, Select: sel}, c.dialect)
		if err != nil {
			return artifact.Artifact{}, err
		}
		c.debug("compiled operation", "name", name, "kind", artifact.KindView)
		return artifact.Artifact{Name: name, Kind: artifact.KindView, SQL: sql}, nil
	}

	paramTypes := make(map[string]string, len(compiled.Params)+1)
	for pname, info := range compiled.Params {
		paramTypes[pname] = info.SQLType()
	}
	if compiled.Identity != nil && c.mode == dialect.IdentityParameter {
		identityVar := c.identityVar
		if identityVar == "" {
			identityVar = qir.DefaultIdentityVar
		}
		paramTypes[identityVar] = compiled.Identity.SQLType()
	}
	sql, order, err := sqlast.Print(&sqlast.CreateFunction{
		Name:       name,
		ParamTypes: paramTypes,
		Returns:    "SETOF json",
		Body:       sel,
	}, c.dialect)
	if err != nil {
		return artifact.Artifact{}, err
	}
	c.debug("compiled operation", "name", name, "kind", artifact.KindFunction, "params", order)
	return artifact.Artifact{Name: name, Kind: artifact.KindFunction, SQL: sql, Params: order}, nil
}

func (c *Compiler) debug(msg string, args ...any) {
	if c.logger != nil {
		c.logger.Debug(msg, args...)
	}
}

// GenerateDDL emits the full-schema DDL: tables, constraints, indexes,
// row security, and grants, phased the same way a from-scratch migration
// would be.
func (c *Compiler) GenerateDDL() (artifact.Artifact, error) {
	plan, err := migrate.Diff(ir.NewSchema(), c.schema, migrate.Options{Dialect: c.dialect})
	if err != nil {
		return artifact.Artifact{}, err
	}
	sql, err := plan.Render(c.dialect)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return artifact.Artifact{Name: "schema", Kind: artifact.KindDDL, SQL: sql}, nil
}

// PlanMigration diffs a previous schema against this compiler's schema.
// Destructive operations are rejected unless the compiler allows them.
func (c *Compiler) PlanMigration(before *ir.Schema) (*migrate.Plan, error) {
	plan, err := migrate.Diff(before, c.schema, migrate.Options{
		Dialect:          c.dialect,
		AllowDestructive: c.allowDestructive,
	})
	if err != nil {
		return nil, err
	}
	c.debug("planned migration", "ops", len(plan.Ops))
	return plan, nil
}

// MigrationArtifact plans and renders a migration in one step.
func (c *Compiler) MigrationArtifact(name string, before *ir.Schema) (artifact.Artifact, error) {
	plan, err := c.PlanMigration(before)
	if err != nil {
		return artifact.Artifact{}, err
	}
	sql, err := plan.Render(c.dialect)
	if err != nil {
		return artifact.Artifact{}, err
	}
	return artifact.Artifact{Name: name, Kind: artifact.KindMigration, SQL: sql}, nil
}

// Emit writes artifacts to a sink, stopping at the first write error.
func Emit(sink artifact.Sink, artifacts ...artifact.Artifact) error {
	for _, a := range artifacts {
		if err := sink.Write(a); err != nil {
			return err
		}
	}
	return nil
}
