package ledger

// CertificateStorage contract interface. The ABI is fixed by the deployed
// contract and must match it bit-for-bit.
const storageABI = `[
  {
    "name": "storeCertificate",
    "type": "function",
    "stateMutability": "nonpayable",
    "inputs": [
      {"name": "certId", "type": "string"},
      {"name": "certHash", "type": "string"},
      {"name": "name", "type": "string"},
      {"name": "eventName", "type": "string"},
      {"name": "issueDate", "type": "string"}
    ],
    "outputs": []
  },
  {
    "name": "verifyCertificate",
    "type": "function",
    "stateMutability": "view",
    "inputs": [
      {"name": "certId", "type": "string"},
      {"name": "certHash", "type": "string"}
    ],
    "outputs": [{"name": "", "type": "bool"}]
  },
  {
    "name": "getCertificateDetails",
    "type": "function",
    "stateMutability": "view",
    "inputs": [{"name": "certId", "type": "string"}],
    "outputs": [
      {"name": "name", "type": "string"},
      {"name": "eventName", "type": "string"},
      {"name": "issueDate", "type": "string"},
      {"name": "certHash", "type": "string"}
    ]
  }
]`
