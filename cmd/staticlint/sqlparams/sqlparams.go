package sqlparams

import (
	"go/ast"
	"go/token"
	"go/types"
	"path/filepath"
	"strings"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/ast/astutil"
)

// Analyzer reports SQL built with fmt.Sprint* or string concatenation and
// handed to the database gateway. Values must be bound through gateway.Args
// as @name placeholders instead.
var Analyzer = &analysis.Analyzer{
	Name: "sqlparams",
	Doc:  "forbids formatted or concatenated SQL in database gateway calls",
	Run:  run,
}

// queryArgIndex is the position of the query string in every gateway method.
const queryArgIndex = 1

var gatewayMethods = map[string]bool{
	"Execute":     true,
	"ExecuteMany": true,
	"FetchRow":    true,
	"FetchValue":  true,
	"Fetch":       true,
	"Iterate":     true,
}

var gatewayTypes = map[string]bool{
	"Gateway": true,
	"Handle":  true,
}

var formatFuncs = map[string]bool{
	"Sprintf":  true,
	"Sprint":   true,
	"Sprintln": true,
}

func run(pass *analysis.Pass) (interface{}, error) {
	for _, file := range pass.Files {
		filename := pass.Fset.File(file.Pos()).Name()
		if isGoBuildCacheFile(filename) {
			continue
		}

		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || len(call.Args) <= queryArgIndex {
				return true
			}

			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || !gatewayMethods[sel.Sel.Name] || !isGatewayReceiver(pass, sel.X) {
				return true
			}

			query := astutil.Unparen(call.Args[queryArgIndex])
			if isFormatted(pass, query) || isDynamicConcat(pass, query) {
				pass.Reportf(query.Pos(), "query passed to %s is built at runtime; bind values with gateway.Args", sel.Sel.Name)
			}

			return true
		})
	}
	return nil, nil
}

func isGatewayReceiver(pass *analysis.Pass, expr ast.Expr) bool {
	t := pass.TypesInfo.TypeOf(expr)
	if t == nil {
		return false
	}
	if ptr, ok := t.(*types.Pointer); ok {
		t = ptr.Elem()
	}
	named, ok := t.(*types.Named)
	if !ok || named.Obj().Pkg() == nil {
		return false
	}

	return gatewayTypes[named.Obj().Name()] &&
		strings.HasSuffix(named.Obj().Pkg().Path(), "db/gateway")
}

func isFormatted(pass *analysis.Pass, expr ast.Expr) bool {
	call, ok := expr.(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || !formatFuncs[sel.Sel.Name] {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	pkgName, ok := pass.TypesInfo.Uses[ident].(*types.PkgName)

	return ok && pkgName.Imported().Path() == "fmt"
}

// isDynamicConcat is true for a + chain that is not a compile-time constant.
func isDynamicConcat(pass *analysis.Pass, expr ast.Expr) bool {
	bin, ok := expr.(*ast.BinaryExpr)
	if !ok || bin.Op != token.ADD {
		return false
	}
	tv, ok := pass.TypesInfo.Types[bin]

	return ok && tv.Value == nil
}

func isGoBuildCacheFile(path string) bool {
	path = filepath.ToSlash(path)
	return strings.Contains(path, "/go-build/")
}
