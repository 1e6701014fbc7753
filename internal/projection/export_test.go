package projection

var FeesFromOutput = feesFromOutput
