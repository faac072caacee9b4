package metadata

import (
	"encoding/xml"
	"fmt"

	"github.com/vlikhobabin/camunda-bridge/internal/engine"
)

const camundaNS = "http://camunda.org/schema/1.0/bpmn"

// bpmnDefinitions mirrors just enough of the BPMN 2.0 schema to recover
// service-task extension properties, field injections, and input/output
// parameters (spec.md §3.2), grounded on bpmn_metadata_cache.py's
// ElementTree traversal.
type bpmnDefinitions struct {
	ServiceTasks []serviceTask `xml:"process>serviceTask"`
}

type serviceTask struct {
	ID              string           `xml:"id,attr"`
	Name            string           `xml:"name,attr"`
	CamundaType     string           `xml:"type,attr"`
	CamundaTopic    string           `xml:"topic,attr"`
	ExtensionElems  extensionElements `xml:"extensionElements"`
}

type extensionElements struct {
	Properties  []property    `xml:"properties>property"`
	Fields      []field       `xml:"field"`
	InputOutput inputOutput   `xml:"inputOutput"`
}

type property struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type field struct {
	Name        string `xml:"name,attr"`
	StringValue string `xml:"stringValue,attr"`
	String      string `xml:"string"`
}

func (f field) value() string {
	if f.StringValue != "" {
		return f.StringValue
	}
	return f.String
}

type inputOutput struct {
	InputParameters  []ioParam `xml:"inputParameter"`
	OutputParameters []ioParam `xml:"outputParameter"`
}

type ioParam struct {
	Name  string `xml:"name,attr"`
	Value string `xml:",chardata"`
}

// ParseServiceTasks extracts metadata for every serviceTask element in a
// BPMN 2.0 XML document, keyed by activity id (spec.md §4.3).
//
// This uses the standard library's encoding/xml rather than a third-party
// parser: no BPMN or general-purpose XML library appears anywhere in the
// retrieved reference corpus, and BPMN's schema is simple enough that
// encoding/xml's struct tags cover it directly.
func ParseServiceTasks(bpmnXML string) (map[string]engine.ActivityMetadata, error) {
	var defs bpmnDefinitions
	if err := xml.Unmarshal([]byte(bpmnXML), &defs); err != nil {
		return nil, fmt.Errorf("metadata: parse BPMN XML: %w", err)
	}

	out := make(map[string]engine.ActivityMetadata, len(defs.ServiceTasks))
	for _, task := range defs.ServiceTasks {
		if task.ID == "" {
			continue
		}

		meta := engine.ActivityMetadata{
			ActivityInfo: engine.ActivityInfo{
				ID:    task.ID,
				Name:  task.Name,
				Type:  task.CamundaType,
				Topic: task.CamundaTopic,
			},
		}

		if len(task.ExtensionElems.Properties) > 0 {
			meta.ExtensionProperties = make(map[string]string, len(task.ExtensionElems.Properties))
			for _, p := range task.ExtensionElems.Properties {
				if p.Name != "" && p.Value != "" {
					meta.ExtensionProperties[p.Name] = p.Value
				}
			}
		}

		if len(task.ExtensionElems.Fields) > 0 {
			meta.FieldInjections = make(map[string]string, len(task.ExtensionElems.Fields))
			for _, f := range task.ExtensionElems.Fields {
				if v := f.value(); f.Name != "" && v != "" {
					meta.FieldInjections[f.Name] = v
				}
			}
		}

		if len(task.ExtensionElems.InputOutput.InputParameters) > 0 {
			meta.InputParameters = make(map[string]string, len(task.ExtensionElems.InputOutput.InputParameters))
			for _, p := range task.ExtensionElems.InputOutput.InputParameters {
				if p.Name != "" && p.Value != "" {
					meta.InputParameters[p.Name] = p.Value
				}
			}
		}

		if len(task.ExtensionElems.InputOutput.OutputParameters) > 0 {
			meta.OutputParameters = make(map[string]string, len(task.ExtensionElems.InputOutput.OutputParameters))
			for _, p := range task.ExtensionElems.InputOutput.OutputParameters {
				if p.Name != "" && p.Value != "" {
					meta.OutputParameters[p.Name] = p.Value
				}
			}
		}

		out[task.ID] = meta
	}

	return out, nil
}
