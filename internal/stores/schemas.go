package stores

import (
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Entity kinds, used as schema names, PK prefixes, and codec tags.
const (
	kindSignal        = "SIGNAL"
	kindEvidence      = "EVIDENCE"
	kindPromotion     = "PROMOTION"
	kindIncident      = "INCIDENT"
	kindIncidentEvent = "INCIDENT_EVENT"
	kindIdempotency   = "IDEMPOTENCY"
	kindOutcome       = "OUTCOME"
	kindSummary       = "SUMMARY"
	kindCalibration   = "CALIBRATION"
	kindSnapshot      = "SNAPSHOT"
	kindAudit         = "AUDIT"
	kindKillSwitch    = "KILL_SWITCH"
)

// sharedDefs holds the building blocks every entity schema references.
const sharedDefs = `{
  "$defs": {
    "hexId":  {"type": "string", "pattern": "^[0-9a-f]{64}$"},
    "millis": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}T\\d{2}:\\d{2}:\\d{2}\\.\\d{3}Z$"},
    "severity": {"enum": ["SEV1", "SEV2", "SEV3", "SEV4"]},
    "band": {"enum": ["LOW", "MEDIUM", "HIGH", "CRITICAL"]},
    "unitInterval": {"type": "number", "minimum": 0, "maximum": 1},
    "authority": {
      "type": "object",
      "required": ["type", "principal"],
      "properties": {
        "type": {"enum": ["AUTO_ENGINE", "HUMAN_OPERATOR", "ON_CALL_SRE", "EMERGENCY_OVERRIDE"]},
        "principal": {"type": "string", "minLength": 1}
      }
    }
  }
}`

// entitySchemas validate stored bodies on every read. They pin the fields
// integrity depends on (ids, timestamps, enums, closed invariants); they do
// not forbid additive fields, so old readers tolerate newer writers.
var entitySchemas = map[string]string{
	kindSignal: `{
	  "type": "object",
	  "required": ["signalId", "source", "signalType", "service", "severity", "normalizedSeverity", "observedAt", "identityWindow", "ingestedAt"],
	  "properties": {
	    "signalId": {"$ref": "defs.json#/$defs/hexId"},
	    "source": {"enum": ["alarm", "metric", "log", "custom", "event"]},
	    "signalType": {"type": "string", "minLength": 1},
	    "service": {"type": "string", "minLength": 1},
	    "severity": {"$ref": "defs.json#/$defs/severity"},
	    "normalizedSeverity": {"enum": ["CRITICAL", "HIGH", "MEDIUM", "LOW", "INFO"]},
	    "observedAt": {"$ref": "defs.json#/$defs/millis"},
	    "identityWindow": {"type": "string", "pattern": "^\\d{4}-\\d{2}-\\d{2}T\\d{2}:\\d{2}Z$"},
	    "metadata": {"type": "object", "additionalProperties": {"type": "string"}},
	    "ingestedAt": {"$ref": "defs.json#/$defs/millis"}
	  }
	}`,

	kindEvidence: `{
	  "type": "object",
	  "required": ["evidenceId", "service", "detections", "windowStart", "windowEnd", "bundledAt", "signalSummary"],
	  "properties": {
	    "evidenceId": {"$ref": "defs.json#/$defs/hexId"},
	    "service": {"type": "string", "minLength": 1},
	    "detections": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["detectionId", "ruleId", "service", "severity", "signalIds"],
	        "properties": {
	          "detectionId": {"type": "string", "minLength": 1},
	          "ruleId": {"type": "string", "minLength": 1},
	          "severity": {"$ref": "defs.json#/$defs/severity"},
	          "signalIds": {"type": "array", "items": {"$ref": "defs.json#/$defs/hexId"}}
	        }
	      }
	    },
	    "windowStart": {"$ref": "defs.json#/$defs/millis"},
	    "windowEnd": {"$ref": "defs.json#/$defs/millis"},
	    "bundledAt": {"$ref": "defs.json#/$defs/millis"},
	    "signalSummary": {
	      "type": "object",
	      "required": ["signalCount", "severityDistribution", "timeSpread", "uniqueRules"],
	      "properties": {
	        "signalCount": {"type": "integer", "minimum": 0},
	        "timeSpread": {"type": "integer", "minimum": 0},
	        "uniqueRules": {"type": "integer", "minimum": 0}
	      }
	    }
	  }
	}`,

	kindPromotion: `{
	  "type": "object",
	  "required": ["decision", "candidateId", "evidenceId", "confidenceScore", "confidenceBand", "evaluatedAt", "gateVersion"],
	  "properties": {
	    "decision": {"enum": ["PROMOTE", "REJECT"]},
	    "incidentId": {"$ref": "defs.json#/$defs/hexId"},
	    "rejectionCode": {"enum": ["CONFIDENCE_TOO_LOW", "INSUFFICIENT_DETECTIONS", "ACTIVE_INCIDENT_EXISTS", "EVIDENCE_NOT_FOUND", "SERVICE_NOT_ALLOWED", "GATE_INTERNAL_ERROR"]},
	    "candidateId": {"$ref": "defs.json#/$defs/hexId"},
	    "evidenceId": {"$ref": "defs.json#/$defs/hexId"},
	    "confidenceScore": {"$ref": "defs.json#/$defs/unitInterval"},
	    "confidenceBand": {"$ref": "defs.json#/$defs/band"},
	    "evaluatedAt": {"$ref": "defs.json#/$defs/millis"},
	    "gateVersion": {"type": "string", "minLength": 1}
	  },
	  "if": {"properties": {"decision": {"const": "PROMOTE"}}},
	  "then": {"required": ["incidentId"]},
	  "else": {"required": ["rejectionCode", "rejectionReason"]}
	}`,

	kindIncident: `{
	  "type": "object",
	  "required": ["incidentId", "service", "severity", "status", "evidenceId", "candidateId", "confidenceScore", "timestamps", "createdBy", "lastModifiedBy", "incidentVersion"],
	  "properties": {
	    "incidentId": {"$ref": "defs.json#/$defs/hexId"},
	    "service": {"type": "string", "minLength": 1},
	    "severity": {"$ref": "defs.json#/$defs/severity"},
	    "status": {"enum": ["PENDING", "OPEN", "MITIGATING", "RESOLVED", "CLOSED"]},
	    "evidenceId": {"$ref": "defs.json#/$defs/hexId"},
	    "candidateId": {"$ref": "defs.json#/$defs/hexId"},
	    "confidenceScore": {"$ref": "defs.json#/$defs/unitInterval"},
	    "timestamps": {
	      "type": "object",
	      "required": ["createdAt", "lastModifiedAt"],
	      "properties": {
	        "createdAt": {"$ref": "defs.json#/$defs/millis"},
	        "openedAt": {"$ref": "defs.json#/$defs/millis"},
	        "mitigatingAt": {"$ref": "defs.json#/$defs/millis"},
	        "resolvedAt": {"$ref": "defs.json#/$defs/millis"},
	        "closedAt": {"$ref": "defs.json#/$defs/millis"},
	        "lastModifiedAt": {"$ref": "defs.json#/$defs/millis"}
	      }
	    },
	    "resolution": {
	      "type": "object",
	      "required": ["summary", "type", "resolvedBy"],
	      "properties": {
	        "summary": {"type": "string", "minLength": 1},
	        "type": {"enum": ["FIXED", "FALSE_POSITIVE", "DUPLICATE", "WONT_FIX"]},
	        "resolvedBy": {"type": "string", "minLength": 1}
	      }
	    },
	    "createdBy": {"$ref": "defs.json#/$defs/authority"},
	    "lastModifiedBy": {"$ref": "defs.json#/$defs/authority"},
	    "incidentVersion": {"type": "integer", "minimum": 1}
	  }
	}`,

	kindIncidentEvent: `{
	  "type": "object",
	  "required": ["eventId", "incidentId", "eventType", "createdAt"],
	  "properties": {
	    "eventId": {"type": "string", "minLength": 1},
	    "incidentId": {"$ref": "defs.json#/$defs/hexId"},
	    "eventType": {"enum": ["IncidentCreated", "StateTransitioned"]},
	    "createdAt": {"$ref": "defs.json#/$defs/millis"},
	    "payload": {"type": "object"}
	  }
	}`,

	kindIdempotency: `{
	  "type": "object",
	  "required": ["idempotencyKey", "requestHash", "status", "principal", "createdAt"],
	  "properties": {
	    "idempotencyKey": {"type": "string", "minLength": 1},
	    "requestHash": {"$ref": "defs.json#/$defs/hexId"},
	    "status": {"enum": ["IN_PROGRESS", "COMPLETED"]},
	    "principal": {"type": "string", "minLength": 1},
	    "createdAt": {"$ref": "defs.json#/$defs/millis"},
	    "completedAt": {"$ref": "defs.json#/$defs/millis"}
	  }
	}`,

	kindOutcome: `{
	  "type": "object",
	  "required": ["outcomeId", "incidentId", "service", "recordedAt", "validatedAt", "recordedBy", "classification", "timing", "humanAssessment", "prediction", "version"],
	  "properties": {
	    "outcomeId": {"$ref": "defs.json#/$defs/hexId"},
	    "incidentId": {"$ref": "defs.json#/$defs/hexId"},
	    "service": {"type": "string", "minLength": 1},
	    "recordedAt": {"$ref": "defs.json#/$defs/millis"},
	    "validatedAt": {"$ref": "defs.json#/$defs/millis"},
	    "recordedBy": {"$ref": "defs.json#/$defs/authority"},
	    "classification": {
	      "type": "object",
	      "required": ["truePositive", "falsePositive", "rootCause", "resolutionType"],
	      "properties": {
	        "truePositive": {"type": "boolean"},
	        "falsePositive": {"type": "boolean"},
	        "rootCause": {"type": "string", "minLength": 1, "maxLength": 500},
	        "resolutionType": {"enum": ["FIXED", "FALSE_POSITIVE", "DUPLICATE", "WONT_FIX"]}
	      }
	    },
	    "timing": {
	      "type": "object",
	      "required": ["detectedAt", "resolvedAt", "closedAt", "ttd", "ttr"],
	      "properties": {
	        "ttd": {"type": "integer", "minimum": 0},
	        "ttr": {"type": "integer", "minimum": 0}
	      }
	    },
	    "humanAssessment": {
	      "type": "object",
	      "required": ["confidenceRating"],
	      "properties": {
	        "confidenceRating": {"$ref": "defs.json#/$defs/unitInterval"},
	        "notes": {"type": "string", "maxLength": 2000}
	      }
	    },
	    "prediction": {
	      "type": "object",
	      "required": ["confidenceScore", "confidenceBand"],
	      "properties": {
	        "confidenceScore": {"$ref": "defs.json#/$defs/unitInterval"},
	        "confidenceBand": {"$ref": "defs.json#/$defs/band"}
	      }
	    }
	  }
	}`,

	kindSummary: `{
	  "type": "object",
	  "required": ["summaryId", "service", "windowStart", "windowEnd", "metrics", "patterns", "generatedAt", "version"],
	  "properties": {
	    "summaryId": {"$ref": "defs.json#/$defs/hexId"},
	    "service": {"type": "string", "minLength": 1},
	    "windowStart": {"$ref": "defs.json#/$defs/millis"},
	    "windowEnd": {"$ref": "defs.json#/$defs/millis"},
	    "metrics": {
	      "type": "object",
	      "required": ["totalIncidents", "truePositives", "falsePositives"],
	      "properties": {
	        "totalIncidents": {"type": "integer", "minimum": 0},
	        "truePositives": {"type": "integer", "minimum": 0},
	        "falsePositives": {"type": "integer", "minimum": 0}
	      }
	    },
	    "patterns": {
	      "type": "object",
	      "required": ["commonRootCauses", "commonResolutions"],
	      "properties": {
	        "commonRootCauses": {"type": "array", "maxItems": 10},
	        "commonResolutions": {"type": "array", "maxItems": 10}
	      }
	    }
	  }
	}`,

	kindCalibration: `{
	  "type": "object",
	  "required": ["calibrationId", "windowStart", "windowEnd", "bandCalibrations", "driftAnalysis", "recommendations", "generatedAt", "version"],
	  "properties": {
	    "calibrationId": {"$ref": "defs.json#/$defs/hexId"},
	    "windowStart": {"$ref": "defs.json#/$defs/millis"},
	    "windowEnd": {"$ref": "defs.json#/$defs/millis"},
	    "bandCalibrations": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["band", "totalIncidents", "truePositives", "falsePositives", "accuracy", "expectedAccuracy", "drift", "sampleSizeSufficient"],
	        "properties": {
	          "band": {"$ref": "defs.json#/$defs/band"},
	          "sampleSizeSufficient": {"type": "boolean"}
	        }
	      }
	    },
	    "recommendations": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["band", "text", "severity", "actionable"],
	        "properties": {
	          "severity": {"enum": ["INFO", "WARNING", "CRITICAL"]},
	          "actionable": {"const": false}
	        }
	      }
	    }
	  }
	}`,

	kindSnapshot: `{
	  "type": "object",
	  "required": ["snapshotId", "snapshotType", "windowStart", "windowEnd", "data", "outcomeIds", "summaryIds", "calibrationIds", "createdAt", "version"],
	  "properties": {
	    "snapshotId": {"$ref": "defs.json#/$defs/hexId"},
	    "snapshotType": {"enum": ["DAILY", "WEEKLY", "MONTHLY", "CUSTOM"]},
	    "windowStart": {"$ref": "defs.json#/$defs/millis"},
	    "windowEnd": {"$ref": "defs.json#/$defs/millis"},
	    "data": {
	      "type": "object",
	      "required": ["totalOutcomes", "totalSummaries", "totalCalibrations", "services", "dateRange"],
	      "properties": {
	        "services": {"type": "array", "items": {"type": "string"}}
	      }
	    },
	    "outcomeIds": {"type": "array", "items": {"$ref": "defs.json#/$defs/hexId"}},
	    "createdAt": {"$ref": "defs.json#/$defs/millis"}
	  }
	}`,

	kindAudit: `{
	  "type": "object",
	  "required": ["auditId", "operationType", "triggerType", "startTime", "status", "triggeredBy", "version"],
	  "properties": {
	    "auditId": {"$ref": "defs.json#/$defs/hexId"},
	    "operationType": {"enum": ["PATTERN_EXTRACTION", "CALIBRATION", "SNAPSHOT", "KILL_SWITCH_ENABLE", "KILL_SWITCH_DISABLE"]},
	    "triggerType": {"enum": ["SCHEDULED", "MANUAL", "MANUAL_EMERGENCY"]},
	    "startTime": {"$ref": "defs.json#/$defs/millis"},
	    "endTime": {"$ref": "defs.json#/$defs/millis"},
	    "status": {"enum": ["RUNNING", "SUCCESS", "FAILED"]},
	    "parameters": {"type": "object"},
	    "results": {"type": "object"},
	    "triggeredBy": {"$ref": "defs.json#/$defs/authority"},
	    "version": {"type": "string", "minLength": 1}
	  }
	}`,

	kindKillSwitch: `{
	  "type": "object",
	  "required": ["enabled", "lastModified"],
	  "properties": {
	    "enabled": {"type": "boolean"},
	    "disabledAt": {"$ref": "defs.json#/$defs/millis"},
	    "disabledBy": {"type": "string"},
	    "reason": {"type": "string"},
	    "lastModified": {"$ref": "defs.json#/$defs/millis"}
	  }
	}`,
}

// compiledSchemas is built once at package load; schema text is constant,
// so a compile failure is unreachable-state territory.
var compiledSchemas = func() map[string]*jsonschema.Schema {
	out := make(map[string]*jsonschema.Schema, len(entitySchemas))
	for kind, text := range entitySchemas {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("defs.json", strings.NewReader(sharedDefs)); err != nil {
			panic(fmt.Sprintf("stores: shared defs: %v", err))
		}
		name := kind + ".json"
		if err := c.AddResource(name, strings.NewReader(text)); err != nil {
			panic(fmt.Sprintf("stores: schema %s: %v", kind, err))
		}
		schema, err := c.Compile(name)
		if err != nil {
			panic(fmt.Sprintf("stores: compile %s: %v", kind, err))
		}
		out[kind] = schema
	}
	return out
}()
