// Command aggregate_write_audit reports service methods that write money or
// publish tables through a repo instead of an aggregate. It exits 1 when any
// such write is found, so it can gate CI:
//
//	go run ./scripts/aggregate_write_audit.go .
package main

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type repoField struct {
	Name     string `json:"name"`
	RepoType string `json:"repo_type"`
	Table    string `json:"table_group"`
	Guarded  bool   `json:"guarded"`
}

type methodStats struct {
	StructName          string   `json:"struct_name"`
	Method              string   `json:"method"`
	File                string   `json:"file"`
	Line                int      `json:"line"`
	GuardedRepoWrites   int      `json:"guarded_repo_writes"`
	GuardedFields       []string `json:"guarded_fields,omitempty"`
	AggregateWrites     int      `json:"aggregate_writes"`
	AggregateOperations []string `json:"aggregate_operations,omitempty"`
}

type auditReport struct {
	GuardedRepoWriteCallsites int           `json:"guarded_repo_write_callsites"`
	AggregateWriteCallsites   int           `json:"aggregate_write_callsites"`
	Violations                []methodStats `json:"violations"`
	AggregateMethods          []methodStats `json:"aggregate_methods"`
	RepoFieldInventory        []repoField   `json:"repo_field_inventory"`
}

type structFields struct {
	RepoFields      map[string]repoField
	AggregateFields map[string]string
}

var repoWriteMethods = map[string]bool{
	"Create":               true,
	"CreateIgnore":         true,
	"UpdateFields":         true,
	"Upsert":               true,
	"Delete":               true,
	"LockByOrganizationID": true,
}

var aggregateWriteMethods = map[string]bool{
	"UpsertPublishedCourseWithContent":  true,
	"Unpublish":                         true,
	"ProcessCoursePayment":              true,
	"ProcessSubscriptionUpgradePayment": true,
	"RecordRefund":                      true,
	"InsertOrgNotification":             true,
	"ApplyUpgrade":                      true,
	"StageDowngrade":                    true,
	"Enqueue":                           true,
	"Complete":                          true,
	"Fail":                              true,
	"Begin":                             true,
	"AppendAction":                      true,
	"FinishAction":                      true,
	"TransitionStatus":                  true,
}

func main() {
	root := "."
	if len(os.Args) > 1 {
		root = os.Args[1]
	}
	servicesDir := filepath.Join(root, "internal", "services")
	fset := token.NewFileSet()

	pkgs, err := parser.ParseDir(fset, servicesDir, func(fi os.FileInfo) bool {
		return strings.HasSuffix(fi.Name(), ".go") && !strings.HasSuffix(fi.Name(), "_test.go")
	}, 0)
	if err != nil {
		exitf("parse dir: %v", err)
	}
	pkg, ok := pkgs["services"]
	if !ok {
		exitf("services package not found in %s", servicesDir)
	}

	fieldsByStruct := map[string]structFields{}
	for _, f := range pkg.Files {
		collectStructFields(f, fieldsByStruct)
	}
	var methods []methodStats
	for filePath, f := range pkg.Files {
		rel, err := filepath.Rel(root, filePath)
		if err != nil {
			rel = filePath
		}
		methods = append(methods, collectMethodStats(fset, f, rel, fieldsByStruct)...)
	}

	report := buildReport(fieldsByStruct, methods)
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		exitf("marshal report: %v", err)
	}
	fmt.Println(string(out))
	if len(report.Violations) > 0 {
		os.Exit(1)
	}
}

func collectStructFields(file *ast.File, out map[string]structFields) {
	for _, decl := range file.Decls {
		gd, ok := decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.TYPE {
			continue
		}
		for _, spec := range gd.Specs {
			ts, ok := spec.(*ast.TypeSpec)
			if !ok {
				continue
			}
			st, ok := ts.Type.(*ast.StructType)
			if !ok || st.Fields == nil {
				continue
			}
			sf := structFields{RepoFields: map[string]repoField{}, AggregateFields: map[string]string{}}
			for _, field := range st.Fields.List {
				if len(field.Names) == 0 {
					continue
				}
				sel, ok := field.Type.(*ast.SelectorExpr)
				if !ok {
					continue
				}
				pkgIdent, ok := sel.X.(*ast.Ident)
				if !ok {
					continue
				}
				name := field.Names[0].Name
				typeName := strings.TrimSpace(sel.Sel.Name)
				switch {
				case pkgIdent.Name == "repos" && strings.HasSuffix(typeName, "Repo"):
					group, guarded := tableGroup(typeName)
					sf.RepoFields[name] = repoField{Name: name, RepoType: typeName, Table: group, Guarded: guarded}
				case pkgIdent.Name == "domainagg" && strings.HasSuffix(typeName, "Aggregate"):
					sf.AggregateFields[name] = typeName
				}
			}
			if len(sf.RepoFields) > 0 || len(sf.AggregateFields) > 0 {
				out[ts.Name.Name] = sf
			}
		}
	}
}

func collectMethodStats(fset *token.FileSet, file *ast.File, relFile string, fieldsByStruct map[string]structFields) []methodStats {
	var out []methodStats
	for _, decl := range file.Decls {
		fd, ok := decl.(*ast.FuncDecl)
		if !ok || fd.Recv == nil || fd.Body == nil || len(fd.Recv.List) == 0 {
			continue
		}
		recvName, recvType := recvInfo(fd.Recv.List[0])
		sf, ok := fieldsByStruct[recvType]
		if recvName == "" || !ok {
			continue
		}

		stats := methodStats{
			StructName: recvType,
			Method:     fd.Name.Name,
			File:       filepath.ToSlash(relFile),
			Line:       fset.Position(fd.Pos()).Line,
		}
		guarded := map[string]bool{}
		ops := map[string]bool{}
		ast.Inspect(fd.Body, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			fnSel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			rcvSel, ok := fnSel.X.(*ast.SelectorExpr)
			if !ok {
				return true
			}
			if base, ok := rcvSel.X.(*ast.Ident); !ok || base.Name != recvName {
				return true
			}
			field, method := rcvSel.Sel.Name, fnSel.Sel.Name
			if rf, ok := sf.RepoFields[field]; ok && rf.Guarded && repoWriteMethods[method] {
				stats.GuardedRepoWrites++
				guarded[field] = true
			}
			if _, ok := sf.AggregateFields[field]; ok && aggregateWriteMethods[method] {
				stats.AggregateWrites++
				ops[method] = true
			}
			return true
		})
		stats.GuardedFields = sortedKeys(guarded)
		stats.AggregateOperations = sortedKeys(ops)
		out = append(out, stats)
	}
	return out
}

func buildReport(fieldsByStruct map[string]structFields, methods []methodStats) auditReport {
	sort.Slice(methods, func(i, j int) bool {
		if methods[i].File == methods[j].File {
			return methods[i].Line < methods[j].Line
		}
		return methods[i].File < methods[j].File
	})
	var report auditReport
	for _, m := range methods {
		if m.GuardedRepoWrites > 0 {
			report.GuardedRepoWriteCallsites += m.GuardedRepoWrites
			report.Violations = append(report.Violations, m)
		}
		if m.AggregateWrites > 0 {
			report.AggregateWriteCallsites += m.AggregateWrites
			report.AggregateMethods = append(report.AggregateMethods, m)
		}
	}

	keys := []string{}
	fields := map[string]repoField{}
	for structName, sf := range fieldsByStruct {
		for _, rf := range sf.RepoFields {
			k := structName + "." + rf.Name
			keys = append(keys, k)
			fields[k] = rf
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		report.RepoFieldInventory = append(report.RepoFieldInventory, fields[k])
	}
	return report
}

func recvInfo(field *ast.Field) (string, string) {
	if field == nil || len(field.Names) == 0 {
		return "", ""
	}
	recvName := field.Names[0].Name
	switch t := field.Type.(type) {
	case *ast.StarExpr:
		if id, ok := t.X.(*ast.Ident); ok {
			return recvName, id.Name
		}
	case *ast.Ident:
		return recvName, t.Name
	}
	return "", ""
}

// tableGroup reports whether writes to a repo's tables must go through an aggregate.
func tableGroup(repoType string) (string, bool) {
	switch {
	case strings.HasPrefix(repoType, "Ledger"), strings.HasPrefix(repoType, "CoursePayment"), strings.HasPrefix(repoType, "Enrollment"):
		return "payments", true
	case strings.HasPrefix(repoType, "Subscription"), strings.HasPrefix(repoType, "Notification"):
		return "subscriptions", true
	case strings.HasPrefix(repoType, "Published"), strings.HasPrefix(repoType, "CourseStructure"):
		return "publish", true
	case strings.HasPrefix(repoType, "Saga"), strings.HasPrefix(repoType, "Outbox"):
		return "jobs", true
	case strings.HasPrefix(repoType, "WebhookEvent"):
		return "webhook_log", false
	default:
		return "other", false
	}
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
